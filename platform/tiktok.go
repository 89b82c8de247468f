// TikTok publisher: OAuth code exchange against the open API, then the
// init/upload flow that lands the video in the user's inbox for final posting
// from the TikTok app.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/onnwee/crossypost/config"
)

type TikTokPublisher struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	// BaseURL overrides https://open.tiktokapis.com for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func NewTikTok(cfg *config.Config) *TikTokPublisher {
	return &TikTokPublisher{
		ClientKey:    cfg.TikTokClientKey,
		ClientSecret: cfg.TikTokClientSecret,
		RedirectURI:  cfg.TikTokRedirectURI,
	}
}

func (p *TikTokPublisher) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *TikTokPublisher) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return "https://open.tiktokapis.com"
}

func (p *TikTokPublisher) ConnectPrompt() (string, error) {
	if p.ClientKey == "" || p.RedirectURI == "" {
		return "", fmt.Errorf("%w: need TIKTOK_CLIENT_KEY and TIKTOK_REDIRECT_URI", ErrNotConfigured)
	}
	authURL := "https://www.tiktok.com/v2/auth/authorize/" +
		"?client_key=" + url.QueryEscape(p.ClientKey) +
		"&scope=user.info.basic,video.upload,video.publish" +
		"&response_type=code" +
		"&redirect_uri=" + url.QueryEscape(p.RedirectURI)
	return "🎵 <b>Connect TikTok</b>\n\n" +
		"1. Open the link:\n" + authURL + "\n\n" +
		"2. Grant access\n" +
		"3. Copy the code from the URL and send it to me", nil
}

func (p *TikTokPublisher) Exchange(ctx context.Context, input string) (Record, error) {
	form := url.Values{}
	form.Set("client_key", p.ClientKey)
	form.Set("client_secret", p.ClientSecret)
	form.Set("code", strings.TrimSpace(input))
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", p.RedirectURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+"/v2/oauth/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok code exchange: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tiktok code exchange failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		OpenID           string `json:"open_id"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tiktok code exchange decode: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("tiktok code exchange: %s", body.ErrorDescription)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("tiktok code exchange: empty access token")
	}
	return Record{
		"access_token":  body.AccessToken,
		"refresh_token": body.RefreshToken,
		"open_id":       body.OpenID,
	}, nil
}

func (p *TikTokPublisher) Upload(ctx context.Context, path, title, description string, rec Record) (string, error) {
	token := rec["access_token"]
	if token == "" {
		return "", fmt.Errorf("tiktok credential record missing access token")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	// Step 1: init allocates an upload slot sized to the file.
	initBody, err := json.Marshal(map[string]any{
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        info.Size(),
			"chunk_size":        info.Size(),
			"total_chunk_count": 1,
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+"/v2/post/publish/inbox/video/init/", strings.NewReader(string(initBody)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("tiktok init: %w", err)
	}
	defer closeBody(resp)
	var initRes struct {
		Data struct {
			PublishID string `json:"publish_id"`
			UploadURL string `json:"upload_url"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&initRes); err != nil {
		return "", fmt.Errorf("tiktok init decode: %w", err)
	}
	if initRes.Error.Code != "" && initRes.Error.Code != "ok" {
		return "", fmt.Errorf("tiktok init: %s", initRes.Error.Message)
	}
	if initRes.Data.UploadURL == "" {
		return "", fmt.Errorf("tiktok init: no upload url")
	}

	// Step 2: single-chunk PUT of the whole file.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	up, err := http.NewRequestWithContext(ctx, http.MethodPut, initRes.Data.UploadURL, f)
	if err != nil {
		return "", err
	}
	up.ContentLength = info.Size()
	up.Header.Set("Content-Type", "video/mp4")
	up.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", info.Size()-1, info.Size()))
	upResp, err := p.http().Do(up)
	if err != nil {
		return "", fmt.Errorf("tiktok upload: %w", err)
	}
	defer closeBody(upResp)
	if upResp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(upResp.Body)
		return "", fmt.Errorf("tiktok upload failed: %s: %s", upResp.Status, string(b))
	}

	// The inbox flow has no public URL; the publish id is the result reference.
	return "sent to TikTok inbox (publish id " + initRes.Data.PublishID + ")", nil
}
