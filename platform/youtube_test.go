package platform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/crossypost/config"
)

func TestYouTubeConnectPromptRequiresConfig(t *testing.T) {
	p := NewYouTube(&config.Config{})
	if _, err := p.ConnectPrompt(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	p = NewYouTube(&config.Config{
		YTClientID:    "cid.apps.googleusercontent.com",
		YTRedirectURI: "urn:ietf:wg:oauth:2.0:oob",
	})
	prompt, err := p.ConnectPrompt()
	if err != nil {
		t.Fatalf("ConnectPrompt error: %v", err)
	}
	if !strings.Contains(prompt, "client_id=cid.apps.googleusercontent.com") {
		t.Errorf("prompt missing client id: %q", prompt)
	}
	if !strings.Contains(prompt, "access_type=offline") {
		t.Errorf("expected offline access request in %q", prompt)
	}
}

func TestYouTubeScopeParsing(t *testing.T) {
	p := NewYouTube(&config.Config{YTScopes: "a,b c"})
	if len(p.oauth.Scopes) != 3 {
		t.Errorf("Scopes = %v, want 3 entries", p.oauth.Scopes)
	}
}

func TestYouTubeUploadCorruptRecord(t *testing.T) {
	p := NewYouTube(&config.Config{YTClientID: "cid"})
	_, err := p.Upload(context.Background(), "/tmp/x.mp4", "t", "d", Record{"token": "{not json"})
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("expected corrupt-record error, got %v", err)
	}
}
