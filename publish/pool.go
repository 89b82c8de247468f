package publish

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onnwee/crossypost/platform"
	"github.com/onnwee/crossypost/telemetry"
)

// Job is one queued publish with its conversation-layer callbacks. Progress
// fires before each platform's upload; Done fires exactly once with the
// ordered outcomes, or with err set when the asset download failed.
type Job struct {
	Request  Request
	Progress func(platform.Descriptor)
	Done     func(outcomes []Outcome, err error)
}

// Pool runs publishes on a fixed set of workers so the update-dispatch path
// never blocks on a download or upload. The queue is bounded; Enqueue reports
// false when it is full instead of blocking.
type Pool struct {
	orch *Orchestrator
	jobs chan Job
}

func NewPool(orch *Orchestrator, queue int) *Pool {
	if queue <= 0 {
		queue = 1
	}
	return &Pool{orch: orch, jobs: make(chan Job, queue)}
}

// Start launches the worker goroutines. Workers drain until ctx is canceled;
// a publish already running completes naturally (no mid-publish cancellation).
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, n int) {
	slog.Debug("publish worker started", slog.Int("worker", n))
	for {
		select {
		case <-ctx.Done():
			slog.Debug("publish worker stopped", slog.Int("worker", n))
			return
		case job := <-p.jobs:
			telemetry.SetPublishQueueDepth(len(p.jobs))
			// Detach from the poll loop's cancellation: a publish in flight
			// runs to completion even during shutdown draining.
			runCtx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
			outcomes, err := p.orch.Run(runCtx, job.Request, job.Progress)
			if job.Done != nil {
				job.Done(outcomes, err)
			}
		}
	}
}

// Enqueue submits a job. It never blocks; false means the queue is full and
// the caller should tell the user to retry later.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.jobs <- job:
		telemetry.SetPublishQueueDepth(len(p.jobs))
		return true
	default:
		return false
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.jobs) }
