package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTelegramServer creates a test server that mocks Bot API responses.
// Handlers are keyed by method name (e.g., "sendMessage"); unhandled methods
// get a generic ok envelope so incidental calls don't fail tests.
type MockTelegramServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls []string
}

// NewMockTelegramServer creates a new mock Bot API server.
func NewMockTelegramServer(t *testing.T) *MockTelegramServer {
	t.Helper()
	m := &MockTelegramServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths look like /bot<token>/<method> or /file/bot<token>/<path>
		if strings.HasPrefix(r.URL.Path, "/file/") {
			if handler, ok := m.Handlers["file"]; ok {
				handler(w, r)
				return
			}
			_, _ = w.Write([]byte("filedata"))
			return
		}
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		method := parts[1]
		m.mu.Lock()
		m.calls = append(m.calls, method)
		m.mu.Unlock()
		if handler, ok := m.Handlers[method]; ok {
			handler(w, r)
			return
		}
		OKEnvelope(w, map[string]any{})
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls returns the method names invoked so far, in order.
func (m *MockTelegramServer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// OKEnvelope writes a successful Bot API response wrapping result.
func OKEnvelope(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result}) //nolint:errcheck // test mock response
}

// ErrorEnvelope writes a failed Bot API response with a description.
func ErrorEnvelope(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": description}) //nolint:errcheck // test mock response
}

// MockSendMessage installs a sendMessage handler returning the given message id.
func (m *MockTelegramServer) MockSendMessage(messageID int) {
	m.Handlers["sendMessage"] = func(w http.ResponseWriter, r *http.Request) {
		OKEnvelope(w, map[string]any{"message_id": messageID})
	}
}

// MockGetFile installs a getFile handler returning the given file path.
func (m *MockTelegramServer) MockGetFile(filePath string, size int64) {
	m.Handlers["getFile"] = func(w http.ResponseWriter, r *http.Request) {
		OKEnvelope(w, map[string]any{"file_id": "fid", "file_size": size, "file_path": filePath})
	}
}

// MockUpdates installs a getUpdates handler that serves the given batches in
// sequence, then empty responses.
func (m *MockTelegramServer) MockUpdates(batches ...[]map[string]any) {
	i := 0
	m.Handlers["getUpdates"] = func(w http.ResponseWriter, r *http.Request) {
		if i < len(batches) {
			OKEnvelope(w, batches[i])
			i++
			return
		}
		OKEnvelope(w, []map[string]any{})
	}
}
