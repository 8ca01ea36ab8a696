package jobs

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/meridian-dms/meridian-core/internal/config"
)

// Module provides the job-processing runtime: the in-memory queue, the
// idempotency ledger, the submitter, and the worker loops. Domain
// modules contribute a *Registry listing their job handlers.
var Module = fx.Module("jobs",
	fx.Provide(
		NewMemoryQueue,
		func(q *MemoryQueue) Queue { return q },
		provideTracker,
		NewSubmitter,
		provideRunner,
	),
	fx.Invoke(RegisterRunnerLifecycle),
)

// provideTracker selects the ledger backend from configuration. The
// in-memory ledger is the default; the Postgres ledger keeps the same
// contract but survives restarts and is shared across processes.
func provideTracker(cfg *config.Config, db bun.IDB, log *slog.Logger) Tracker {
	if cfg.Jobs.UsePostgresLedger {
		return NewPostgresTracker(db, log)
	}
	return NewMemoryTracker()
}

func provideRunner(queue Queue, registry *Registry, tracker Tracker, cfg *config.Config, log *slog.Logger) *Runner {
	return NewRunner(queue, registry, tracker, RunnerConfig{
		Concurrency:     cfg.Jobs.Concurrency,
		DispatchBackoff: cfg.Jobs.DispatchBackoff(),
	}, log)
}

// RegisterRunnerLifecycle ties the worker loops to the application
// lifecycle. On start the durable ledger re-arms rows abandoned by a
// crashed process before the loops begin consuming. On stop the queue
// is closed first so blocked loops wake, then the runner drains
// in-flight jobs within the lifecycle timeout.
func RegisterRunnerLifecycle(lc fx.Lifecycle, queue *MemoryQueue, runner *Runner, tracker Tracker, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if pg, ok := tracker.(*PostgresTracker); ok {
				if _, err := pg.RecoverStale(ctx, cfg.Jobs.StaleRecovery()); err != nil {
					return err
				}
			}
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			queue.Close()
			return runner.Stop(ctx)
		},
	})
}
