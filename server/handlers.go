package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	dbpkg "github.com/onnwee/crossypost/db"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db      *sql.DB
	queue   QueueStats
	started time.Time
}

func NewHandlers(db *sql.DB, queue QueueStats) *Handlers {
	return &Handlers{db: db, queue: queue, started: time.Now()}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. Ready means the database
// answers and the schema is in place.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var one int
			return h.db.QueryRowContext(r.Context(), "SELECT 1 FROM platform_credentials LIMIT 1").Scan(&one)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil && err != sql.ErrNoRows {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a JSON snapshot of bot activity.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.queue != nil {
		resp["publish_queue_depth"] = h.queue.QueueDepth()
	}
	if h.db != nil {
		if users, err := dbpkg.CountConnectedUsers(ctx, h.db); err == nil {
			resp["connected_users"] = users
		}
		if last, err := dbpkg.GetKV(ctx, h.db, "job_publish_last"); err == nil && last != "" {
			resp["last_publish_at"] = last
		}
		if recent, err := dbpkg.RecentPublishes(ctx, h.db, 10); err == nil {
			type entry struct {
				UserID    int64     `json:"user_id"`
				Title     string    `json:"title"`
				Platforms string    `json:"platforms"`
				CreatedAt time.Time `json:"created_at"`
			}
			out := make([]entry, 0, len(recent))
			for _, p := range recent {
				out = append(out, entry{UserID: p.UserID, Title: p.Title, Platforms: p.Platforms, CreatedAt: p.CreatedAt})
			}
			resp["recent_publishes"] = out
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
