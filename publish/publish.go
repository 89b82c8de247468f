// Package publish fans one downloaded video out to the selected platforms,
// aggregating per-platform outcomes. Platform attempts are sequential and
// fully isolated: one failure never aborts, delays, or corrupts the others.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"database/sql"

	"github.com/google/uuid"

	dbpkg "github.com/onnwee/crossypost/db"
	"github.com/onnwee/crossypost/platform"
	"github.com/onnwee/crossypost/telemetry"
)

// Target pairs one platform with the credential record resolved for it at
// confirmation time.
type Target struct {
	Platform platform.Descriptor
	Record   platform.Record
}

// Request is the finalized, immutable bundle handed to the orchestrator.
// Targets are in the order the user selected them.
type Request struct {
	UserID      int64
	AssetFileID string
	Title       string
	Description string
	Targets     []Target
}

// Outcome is the result of one platform attempt.
type Outcome struct {
	Platform platform.ID `json:"platform"`
	URL      string      `json:"url,omitempty"`
	Cause    string      `json:"cause,omitempty"`
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Cause == "" }

// Downloader abstracts fetching the chat attachment to local storage (for tests/mocks).
type Downloader interface {
	DownloadAsset(ctx context.Context, fileID, destPath string) error
}

// Orchestrator downloads the asset once and runs the per-platform upload loop.
// The audit DB handle is optional; a nil handle skips history rows.
type Orchestrator struct {
	Downloader  Downloader
	DownloadDir string
	DB          *sql.DB
}

// Run executes one publish. The asset is downloaded to a uniquely named file,
// uploaded to each target in order, and the local copy is removed regardless
// of the outcome mix. progress is invoked before each platform's upload so the
// conversation layer can show what is in flight; a nil progress is allowed.
// A download failure aborts before any upload and is returned as the error.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress func(platform.Descriptor)) ([]Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "publish", "publish.run")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.Int64("user_id", req.UserID), slog.String("component", "publish"))

	telemetry.PublishesStarted.Inc()
	telemetry.ActivePublishesGauge.Inc()
	defer telemetry.ActivePublishesGauge.Dec()
	start := time.Now()

	path := filepath.Join(o.DownloadDir, uuid.NewString()+".mp4")
	dlStart := time.Now()
	if err := o.Downloader.DownloadAsset(ctx, req.AssetFileID, path); err != nil {
		telemetry.RecordError(span, err)
		logger.Error("asset download failed", slog.Any("err", err))
		return nil, fmt.Errorf("download asset: %w", err)
	}
	defer func() {
		// Best effort; the next boot's sweep catches anything left behind.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("cleanup of downloaded asset failed", slog.String("path", path), slog.Any("err", err))
		}
	}()
	dlDur := time.Since(dlStart)
	telemetry.DownloadDuration.Observe(dlDur.Seconds())
	logger.Info("asset downloaded", slog.String("path", path), slog.Duration("download_duration", dlDur))

	outcomes := make([]Outcome, 0, len(req.Targets))
	for _, t := range req.Targets {
		if progress != nil {
			progress(t.Platform)
		}
		upStart := time.Now()
		url, err := o.uploadOne(ctx, t, path, req.Title, req.Description)
		upDur := time.Since(upStart)
		telemetry.UploadDuration.WithLabelValues(string(t.Platform.ID)).Observe(upDur.Seconds())
		if err != nil {
			logger.Warn("upload failed", slog.String("platform", string(t.Platform.ID)), slog.Any("err", err), slog.Duration("upload_duration", upDur))
			telemetry.UploadsFailed.WithLabelValues(string(t.Platform.ID)).Inc()
			outcomes = append(outcomes, Outcome{Platform: t.Platform.ID, Cause: err.Error()})
			continue
		}
		logger.Info("upload complete", slog.String("platform", string(t.Platform.ID)), slog.String("url", url), slog.Duration("upload_duration", upDur))
		telemetry.UploadsSucceeded.WithLabelValues(string(t.Platform.ID)).Inc()
		outcomes = append(outcomes, Outcome{Platform: t.Platform.ID, URL: url})
	}

	telemetry.PublishesFinished.Inc()
	telemetry.PublishDuration.Observe(time.Since(start).Seconds())
	o.audit(ctx, req, outcomes)
	return outcomes, nil
}

// uploadOne isolates a single platform attempt, converting panics from a
// misbehaving publisher into a failed outcome for that platform only.
func (o *Orchestrator) uploadOne(ctx context.Context, t Target, path, title, description string) (url string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return t.Platform.Publisher.Upload(ctx, path, title, description, t.Record)
}

func (o *Orchestrator) audit(ctx context.Context, req Request, outcomes []Outcome) {
	if o.DB == nil {
		return
	}
	ids := make([]string, 0, len(req.Targets))
	for _, t := range req.Targets {
		ids = append(ids, string(t.Platform.ID))
	}
	raw, err := json.Marshal(outcomes)
	if err != nil {
		raw = []byte("[]")
	}
	if err := dbpkg.RecordPublish(ctx, o.DB, req.UserID, req.Title, strings.Join(ids, ","), string(raw)); err != nil {
		slog.Warn("publish audit insert failed", slog.Any("err", err))
	}
	if err := dbpkg.SetKV(ctx, o.DB, "job_publish_last", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("publish heartbeat failed", slog.Any("err", err))
	}
}

// SweepDownloads removes leftover files from interrupted publishes. Called at
// boot; publishes are not resumable across restarts.
func SweepDownloads(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("orphan sweep failed", slog.String("path", path), slog.Any("err", err))
		} else {
			slog.Info("removed orphaned download", slog.String("path", path))
		}
	}
}
