// VK publisher: implicit-flow token extraction from the redirect URL the user
// pastes back, then the two-step video.save/upload API call.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/onnwee/crossypost/config"
)

const vkAPIVersion = "5.199"

var vkAccessTokenPattern = regexp.MustCompile(`access_token=([^&#]+)`)

type VKPublisher struct {
	AppID string
	// BaseURL overrides https://api.vk.com for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func NewVK(cfg *config.Config) *VKPublisher {
	return &VKPublisher{AppID: cfg.VKAppID}
}

func (p *VKPublisher) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *VKPublisher) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return "https://api.vk.com"
}

func (p *VKPublisher) ConnectPrompt() (string, error) {
	if p.AppID == "" {
		return "", fmt.Errorf("%w: need VK_APP_ID", ErrNotConfigured)
	}
	authURL := fmt.Sprintf(
		"https://oauth.vk.com/authorize?client_id=%s&scope=video,wall,offline&response_type=token&v=%s",
		url.QueryEscape(p.AppID), vkAPIVersion)
	return "📱 <b>Connect VK</b>\n\n" +
		"1. Open the link:\n" + authURL + "\n\n" +
		"2. Grant access\n" +
		"3. Copy the FULL link from the address bar and send it to me", nil
}

// Exchange extracts the access token from the pasted redirect URL. VK's
// implicit flow puts the token in the URL fragment, so there is no server-side
// exchange; validation is purely syntactic.
func (p *VKPublisher) Exchange(ctx context.Context, input string) (Record, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "access_token=") {
		return nil, fmt.Errorf("send the full link from the address bar (it must contain access_token)")
	}
	m := vkAccessTokenPattern.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("could not extract access token from link")
	}
	return Record{"access_token": m[1]}, nil
}

// vkError is the error envelope VK returns inside a 200 response.
type vkError struct {
	Error *struct {
		Code int    `json:"error_code"`
		Msg  string `json:"error_msg"`
	} `json:"error"`
}

func (p *VKPublisher) Upload(ctx context.Context, path, title, description string, rec Record) (string, error) {
	token := rec["access_token"]
	if token == "" {
		return "", fmt.Errorf("vk credential record missing access token")
	}

	// Step 1: video.save allocates the video and returns an upload URL.
	q := url.Values{}
	q.Set("access_token", token)
	q.Set("v", vkAPIVersion)
	q.Set("name", title)
	q.Set("description", description)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base()+"/method/video.save?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("vk video.save: %w", err)
	}
	defer closeBody(resp)
	var save struct {
		vkError
		Response struct {
			UploadURL string `json:"upload_url"`
			OwnerID   int64  `json:"owner_id"`
			VideoID   int64  `json:"video_id"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&save); err != nil {
		return "", fmt.Errorf("vk video.save decode: %w", err)
	}
	if save.Error != nil {
		return "", fmt.Errorf("vk video.save: %s", save.Error.Msg)
	}
	if save.Response.UploadURL == "" {
		return "", fmt.Errorf("vk video.save: no upload url")
	}

	// Step 2: multipart POST of the file to the allocated upload URL.
	if err := p.uploadFile(ctx, save.Response.UploadURL, path); err != nil {
		return "", err
	}

	return fmt.Sprintf("https://vk.com/video%d_%d", save.Response.OwnerID, save.Response.VideoID), nil
}

func (p *VKPublisher) uploadFile(ctx context.Context, uploadURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("video_file", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := p.http().Do(req)
	if err != nil {
		return fmt.Errorf("vk upload: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vk upload failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
