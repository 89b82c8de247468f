package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVKExchangeExtractsToken(t *testing.T) {
	p := &VKPublisher{AppID: "123"}
	rec, err := p.Exchange(context.Background(),
		"https://oauth.vk.com/blank.html#access_token=vk1.a.secret&expires_in=0&user_id=42")
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if rec["access_token"] != "vk1.a.secret" {
		t.Errorf("access_token = %q", rec["access_token"])
	}
}

func TestVKExchangeRejectsBadInput(t *testing.T) {
	p := &VKPublisher{AppID: "123"}
	if _, err := p.Exchange(context.Background(), "just some text"); err == nil {
		t.Errorf("expected error for input without access_token")
	}
}

func TestVKConnectPromptRequiresAppID(t *testing.T) {
	p := &VKPublisher{}
	if _, err := p.ConnectPrompt(); err == nil {
		t.Errorf("expected ErrNotConfigured without VK_APP_ID")
	}
	p.AppID = "123"
	prompt, err := p.ConnectPrompt()
	if err != nil {
		t.Fatalf("ConnectPrompt error: %v", err)
	}
	if !strings.Contains(prompt, "client_id=123") {
		t.Errorf("prompt missing auth url: %q", prompt)
	}
}

func TestVKUpload(t *testing.T) {
	var gotUpload bool
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/method/video.save", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"upload_url": srv.URL + "/upload",
				"owner_id":   7,
				"video_id":   99,
			},
		})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("video_file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotUpload = true
		_ = json.NewEncoder(w).Encode(map[string]any{"size": 4})
	})

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("vid!"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &VKPublisher{AppID: "123", BaseURL: srv.URL, HTTPClient: srv.Client()}
	url, err := p.Upload(context.Background(), path, "Title", "Desc", Record{"access_token": "tok"})
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if url != "https://vk.com/video7_99" {
		t.Errorf("url = %q", url)
	}
	if !gotUpload {
		t.Errorf("file was never posted to upload url")
	}
}

func TestVKUploadAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"error_code": 5, "error_msg": "User authorization failed"},
		})
	}))
	defer srv.Close()

	p := &VKPublisher{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := p.Upload(context.Background(), "/nonexistent", "t", "d", Record{"access_token": "expired"})
	if err == nil || !strings.Contains(err.Error(), "User authorization failed") {
		t.Fatalf("expected vk api error, got %v", err)
	}
}

func TestVKUploadMissingToken(t *testing.T) {
	p := &VKPublisher{}
	if _, err := p.Upload(context.Background(), "x", "t", "d", Record{}); err == nil {
		t.Errorf("expected error for missing access token")
	}
}
