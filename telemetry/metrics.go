// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	UpdatesReceived   prometheus.Counter
	PublishesStarted  prometheus.Counter
	PublishesFinished prometheus.Counter
	UploadsSucceeded  *prometheus.CounterVec
	UploadsFailed     *prometheus.CounterVec
	ExchangesFailed   *prometheus.CounterVec

	// Histograms (seconds)
	DownloadDuration prometheus.Observer
	PublishDuration  prometheus.Observer
	UploadDuration   *prometheus.HistogramVec

	// Gauges
	ActivePublishesGauge prometheus.Gauge
	PublishQueueGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		UpdatesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_updates_received_total", Help: "Number of Telegram updates received"})
		PublishesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "publish_started_total", Help: "Number of publish requests started"})
		PublishesFinished = promauto.NewCounter(prometheus.CounterOpts{Name: "publish_finished_total", Help: "Number of publish requests finished (any outcome mix)"})
		UploadsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "publish_uploads_succeeded_total", Help: "Per-platform upload successes"}, []string{"platform"})
		UploadsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "publish_uploads_failed_total", Help: "Per-platform upload failures"}, []string{"platform"})
		ExchangesFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "credential_exchanges_failed_total", Help: "Per-platform credential exchange failures"}, []string{"platform"})
		DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "publish_download_duration_seconds", Help: "Asset download duration seconds", Buckets: prometheus.DefBuckets})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "publish_total_duration_seconds", Help: "Total publish duration seconds", Buckets: prometheus.DefBuckets})
		UploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "publish_upload_duration_seconds", Help: "Per-platform upload duration seconds", Buckets: prometheus.DefBuckets}, []string{"platform"})
		ActivePublishesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "publish_active", Help: "Publishes currently running"})
		PublishQueueGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "publish_queue_depth", Help: "Publish jobs waiting for a worker"})
	})
}

// SetPublishQueueDepth records the number of queued publish jobs.
func SetPublishQueueDepth(n int) {
	if PublishQueueGauge != nil {
		PublishQueueGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
