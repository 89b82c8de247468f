// Instagram publisher: username/password session login and the two-step
// reel upload (raw video upload, then configure-to-clips). Uses the mobile
// API surface; the session cookie is the credential record.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type InstagramPublisher struct {
	// BaseURL overrides https://i.instagram.com for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func NewInstagram() *InstagramPublisher { return &InstagramPublisher{} }

func (p *InstagramPublisher) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *InstagramPublisher) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return "https://i.instagram.com"
}

func (p *InstagramPublisher) ConnectPrompt() (string, error) {
	return "📸 <b>Connect Instagram</b>\n\n" +
		"Send your login and password separated by a space:\n" +
		"<code>username password</code>\n\n" +
		"⚠️ A dedicated account is recommended.\n" +
		"Credentials are stored only on this server.", nil
}

// Exchange performs a session login with "username password" input.
func (p *InstagramPublisher) Exchange(ctx context.Context, input string) (Record, error) {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) != 2 {
		return nil, fmt.Errorf("send login and password separated by a space")
	}
	username, password := parts[0], parts[1]

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+"/api/v1/accounts/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("instagram login: %w", err)
	}
	defer closeBody(resp)
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("instagram login decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		if body.Message == "" {
			body.Message = resp.Status
		}
		return nil, fmt.Errorf("instagram login failed: %s", body.Message)
	}
	var session string
	for _, c := range resp.Cookies() {
		if c.Name == "sessionid" {
			session = c.Value
		}
	}
	if session == "" {
		return nil, fmt.Errorf("instagram login: no session cookie returned")
	}
	return Record{"username": username, "sessionid": session}, nil
}

func (p *InstagramPublisher) Upload(ctx context.Context, path, title, description string, rec Record) (string, error) {
	session := rec["sessionid"]
	if session == "" {
		return "", fmt.Errorf("instagram credential record missing session")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	// Step 1: raw video upload under a fresh upload id.
	uploadID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+"/rupload_igvideo/"+uuid.NewString(), f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Entity-Length", strconv.FormatInt(info.Size(), 10))
	req.Header.Set("X-Instagram-Rupload-Params", fmt.Sprintf(`{"upload_id":%q,"media_type":2}`, uploadID))
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: session})
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("instagram upload: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("instagram upload failed: %s: %s", resp.Status, string(b))
	}

	// Step 2: configure the uploaded video as a reel.
	caption := title
	if description != "" {
		caption = title + "\n\n" + description
	}
	form := url.Values{}
	form.Set("upload_id", uploadID)
	form.Set("caption", caption)
	cfgReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+"/api/v1/media/configure_to_clips/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	cfgReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	cfgReq.AddCookie(&http.Cookie{Name: "sessionid", Value: session})
	cfgResp, err := p.http().Do(cfgReq)
	if err != nil {
		return "", fmt.Errorf("instagram configure: %w", err)
	}
	defer closeBody(cfgResp)
	var body struct {
		Status string `json:"status"`
		Media  struct {
			Code string `json:"code"`
		} `json:"media"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(cfgResp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("instagram configure decode: %w", err)
	}
	if cfgResp.StatusCode != http.StatusOK || body.Status != "ok" {
		if body.Message == "" {
			body.Message = cfgResp.Status
		}
		return "", fmt.Errorf("instagram configure failed: %s", body.Message)
	}
	if body.Media.Code == "" {
		return "", fmt.Errorf("instagram configure: no media code")
	}
	return "https://www.instagram.com/reel/" + body.Media.Code + "/", nil
}
