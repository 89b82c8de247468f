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

func TestInstagramExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/login/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("username") != "alice" || r.Form.Get("password") != "s3cret" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": "bad credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-abc"})
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	p := &InstagramPublisher{BaseURL: srv.URL, HTTPClient: srv.Client()}
	rec, err := p.Exchange(context.Background(), "alice s3cret")
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if rec["username"] != "alice" || rec["sessionid"] != "sess-abc" {
		t.Errorf("record = %v", rec)
	}
}

func TestInstagramExchangeRejectsMalformedInput(t *testing.T) {
	p := NewInstagram()
	if _, err := p.Exchange(context.Background(), "justausername"); err == nil {
		t.Errorf("expected error for single-field input")
	}
}

func TestInstagramExchangeLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": "The password you entered is incorrect."})
	}))
	defer srv.Close()

	p := &InstagramPublisher{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := p.Exchange(context.Background(), "alice wrong")
	if err == nil || !strings.Contains(err.Error(), "incorrect") {
		t.Fatalf("expected login failure, got %v", err)
	}
}

func TestInstagramConnectPromptAlwaysAvailable(t *testing.T) {
	p := NewInstagram()
	prompt, err := p.ConnectPrompt()
	if err != nil {
		t.Fatalf("ConnectPrompt error: %v", err)
	}
	if !strings.Contains(prompt, "username password") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestInstagramUpload(t *testing.T) {
	var gotVideo bool
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/rupload_igvideo/", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err != nil || c.Value != "sess" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		gotVideo = true
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/media/configure_to_clips/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("upload_id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !strings.Contains(r.Form.Get("caption"), "My reel") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"media":  map[string]string{"code": "Cxyz123"},
		})
	})

	path := filepath.Join(t.TempDir(), "reel.mp4")
	if err := os.WriteFile(path, []byte("reel"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &InstagramPublisher{BaseURL: srv.URL, HTTPClient: srv.Client()}
	url, err := p.Upload(context.Background(), path, "My reel", "desc", Record{"username": "alice", "sessionid": "sess"})
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if url != "https://www.instagram.com/reel/Cxyz123/" {
		t.Errorf("url = %q", url)
	}
	if !gotVideo {
		t.Errorf("video bytes were never uploaded")
	}
}

func TestInstagramUploadMissingSession(t *testing.T) {
	p := NewInstagram()
	if _, err := p.Upload(context.Background(), "x", "t", "d", Record{"username": "alice"}); err == nil {
		t.Errorf("expected error for missing session")
	}
}
