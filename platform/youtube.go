// YouTube publisher: Google OAuth2 code exchange plus the YouTube Data API
// for uploading Shorts. Tokens live inside the user's credential record and
// are refreshed in place by the oauth2 TokenSource at upload time.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/crossypost/config"
)

type YouTubePublisher struct {
	oauth *oauth2.Config
}

func NewYouTube(cfg *config.Config) *YouTubePublisher {
	scopes := []string{"https://www.googleapis.com/auth/youtube.upload"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			scopes = fields
		}
	}
	return &YouTubePublisher{oauth: &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}}
}

func (p *YouTubePublisher) ConnectPrompt() (string, error) {
	if p.oauth.ClientID == "" || p.oauth.RedirectURL == "" {
		return "", fmt.Errorf("%w: need YT_CLIENT_ID and YT_REDIRECT_URI", ErrNotConfigured)
	}
	url := p.oauth.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return "▶️ <b>Connect YouTube</b>\n\n" +
		"1. Open the link:\n" + url + "\n\n" +
		"2. Grant access\n" +
		"3. Copy the code and send it to me", nil
}

func (p *YouTubePublisher) Exchange(ctx context.Context, input string) (Record, error) {
	tok, err := p.oauth.Exchange(ctx, strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("youtube code exchange: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("encode youtube token: %w", err)
	}
	return Record{"token": string(raw)}, nil
}

func (p *YouTubePublisher) Upload(ctx context.Context, path, title, description string, rec Record) (string, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(rec["token"]), &tok); err != nil {
		return "", fmt.Errorf("youtube credential record corrupt: %w", err)
	}
	// TokenSource refreshes transparently when the access token is stale.
	client := oauth2.NewClient(ctx, p.oauth.TokenSource(ctx, &tok))
	svc, err := yt.New(client)
	if err != nil {
		return "", fmt.Errorf("youtube client: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: title, Description: description},
		Status:  &yt.VideoStatus{PrivacyStatus: "public"},
	}
	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return "https://www.youtube.com/watch?v=" + res.Id, nil
}
