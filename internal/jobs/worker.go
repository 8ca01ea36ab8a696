package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// RunnerConfig contains configuration for the worker runtime
type RunnerConfig struct {
	// Concurrency is the number of independent consumer loops sharing
	// the queue, registry, and ledger. Each loop processes exactly one
	// job at a time; running more loops is safe because the ledger's
	// claim is atomic. Default: 1.
	Concurrency int
	// DispatchBackoff is how long a loop pauses after a plumbing
	// failure (dequeue or ledger error) before continuing, so a broken
	// dependency does not turn into a tight failure spin. Default: 1s.
	DispatchBackoff time.Duration
}

// Runner drives the worker loops: dequeue, idempotency claim, handler
// resolution, dispatch, and outcome recording.
type Runner struct {
	queue    Queue
	registry *Registry
	tracker  Tracker
	cfg      RunnerConfig
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Metrics
	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewRunner creates a worker runtime over the shared queue, registry,
// and ledger.
func NewRunner(queue Queue, registry *Registry, tracker Tracker, cfg RunnerConfig, log *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DispatchBackoff <= 0 {
		cfg.DispatchBackoff = time.Second
	}

	return &Runner{
		queue:    queue,
		registry: registry,
		tracker:  tracker,
		cfg:      cfg,
		log:      log.With(logger.Scope("jobs.worker")),
	}
}

// Start launches the consumer loops. It returns immediately.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	r.log.Info("worker runtime starting",
		slog.Int("concurrency", r.cfg.Concurrency),
		slog.Int("job_types", len(r.registry.Types())),
	)

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.run(ctx, i)
	}
}

// Stop cancels the loops and waits for them to finish, or until the
// given context expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("worker runtime stopped gracefully")
	case <-ctx.Done():
		r.log.Warn("worker runtime stop timed out")
	}
	return nil
}

// IsRunning returns whether the runner is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// run is a single consumer loop: one job in flight at a time, the loop
// awaits full job completion before the next dequeue.
func (r *Runner) run(ctx context.Context, loop int) {
	defer r.wg.Done()

	log := r.log.With(slog.Int("loop", loop))
	log.Debug("consumer loop started")

	for {
		env, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("consumer loop cancelled")
				return
			}
			log.Error("dequeue failed", logger.Error(err))
			r.backoff(ctx)
			continue
		}
		if env == nil {
			log.Info("queue closed, consumer loop ending")
			return
		}

		r.dispatch(ctx, env, log)
	}
}

// dispatch runs the idempotency gate, handler resolution, and handler
// invocation for one envelope, recording the outcome in the ledger.
func (r *Runner) dispatch(ctx context.Context, env *JobEnvelope, log *slog.Logger) {
	jobLog := log.With(
		slog.String("job_id", env.JobID),
		slog.String("job_type", env.Type),
	)

	claimed, err := r.tracker.Claim(ctx, env.JobID)
	if err != nil {
		jobLog.Error("ledger claim failed", logger.Error(err))
		r.backoff(ctx)
		return
	}
	if !claimed {
		jobLog.Debug("duplicate delivery skipped")
		return
	}

	// A claimed job runs to its natural success or failure even during
	// shutdown, and the outcome write shares the same lifetime: tearing
	// either down mid-flight would leave the ledger row stuck in
	// Processing with no in-flight work.
	jobCtx := context.WithoutCancel(ctx)

	handle := r.registry.Lookup(env.Type)
	if handle == nil {
		// Poison message: nothing is invoked and nothing re-enqueues
		// the envelope, so the job is never auto-retried.
		jobLog.Warn("no handler registered for job type, marking failed")
		r.recordFailure(jobCtx, env.JobID, jobLog)
		return
	}

	start := time.Now()
	err = r.invoke(jobCtx, handle, env)
	if err != nil {
		if errors.Is(err, ErrBadPayload) {
			jobLog.Warn("poison payload, marking failed", logger.Error(err))
		} else {
			jobLog.Warn("job failed", logger.Error(err), slog.Duration("duration", time.Since(start)))
		}
		r.recordFailure(jobCtx, env.JobID, jobLog)
		return
	}

	if err := r.tracker.MarkCompleted(jobCtx, env.JobID); err != nil {
		jobLog.Error("failed to mark job completed", logger.Error(err))
	}
	r.incrementSuccess()
	jobLog.Debug("job completed", slog.Duration("duration", time.Since(start)))
}

// invoke calls the dispatch closure with panic recovery, so a panicking
// handler fails its job instead of killing the loop.
func (r *Runner) invoke(ctx context.Context, handle HandlerFunc, env *JobEnvelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", env.JobID, p)
		}
	}()
	return handle(ctx, env.JobID, env.Payload)
}

func (r *Runner) recordFailure(ctx context.Context, jobID string, log *slog.Logger) {
	if err := r.tracker.MarkFailed(ctx, jobID); err != nil {
		log.Error("failed to mark job failed", logger.Error(err))
	}
	r.incrementFailure()
}

// backoff pauses the loop briefly, honoring cancellation.
func (r *Runner) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.DispatchBackoff):
	}
}

// Metrics returns current runtime counters.
func (r *Runner) Metrics() RunnerMetrics {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()

	return RunnerMetrics{
		Processed: r.processedCount,
		Succeeded: r.successCount,
		Failed:    r.failureCount,
	}
}

func (r *Runner) incrementSuccess() {
	r.metricsMu.Lock()
	r.processedCount++
	r.successCount++
	r.metricsMu.Unlock()
}

func (r *Runner) incrementFailure() {
	r.metricsMu.Lock()
	r.processedCount++
	r.failureCount++
	r.metricsMu.Unlock()
}

// RunnerMetrics contains worker runtime counters
type RunnerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
