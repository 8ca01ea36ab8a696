package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// ProcessedJob is a ledger row in the job_ledger table.
type ProcessedJob struct {
	bun.BaseModel `bun:"table:job_ledger,alias:jl"`

	JobID     string    `bun:"job_id,pk"`
	State     JobState  `bun:"state,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()"`
}

// PostgresTracker is a database-backed idempotency ledger with the same
// four-state contract as MemoryTracker. Because the claim is a single
// statement it is safe under concurrent worker loops in multiple
// processes, and the ledger survives restarts.
type PostgresTracker struct {
	db  bun.IDB
	log *slog.Logger
}

// NewPostgresTracker creates a ledger backed by the job_ledger table.
func NewPostgresTracker(db bun.IDB, log *slog.Logger) *PostgresTracker {
	return &PostgresTracker{
		db:  db,
		log: log.With(logger.Scope("jobs.ledger")),
	}
}

// Claim atomically claims a job ID. The upsert inserts Processing for a
// fresh ID and flips Failed back to Processing; the WHERE clause makes
// the conflict branch a no-op for Processing and Completed rows, so no
// row comes back and the claim reports false.
func (t *PostgresTracker) Claim(ctx context.Context, jobID string) (bool, error) {
	var claimed string
	err := t.db.NewRaw(`INSERT INTO job_ledger (job_id, state, updated_at)
		VALUES (?, 'processing', now())
		ON CONFLICT (job_id) DO UPDATE
		SET state = 'processing', updated_at = now()
		WHERE job_ledger.state = 'failed'
		RETURNING job_id`, jobID).Scan(ctx, &claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return true, nil
}

// MarkCompleted records the terminal successful outcome.
func (t *PostgresTracker) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := t.db.NewUpdate().
		Model((*ProcessedJob)(nil)).
		Set("state = ?", StateCompleted).
		Set("updated_at = now()").
		Where("job_id = ?", jobID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", jobID, err)
	}
	return nil
}

// MarkFailed records a failed attempt. Completed rows are terminal and
// are left untouched.
func (t *PostgresTracker) MarkFailed(ctx context.Context, jobID string) error {
	_, err := t.db.NewUpdate().
		Model((*ProcessedJob)(nil)).
		Set("state = ?", StateFailed).
		Set("updated_at = now()").
		Where("job_id = ?", jobID).
		Where("state != ?", StateCompleted).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", jobID, err)
	}
	return nil
}

// IsCompleted reports whether the job reached Completed.
func (t *PostgresTracker) IsCompleted(ctx context.Context, jobID string) (bool, error) {
	exists, err := t.db.NewSelect().
		Model((*ProcessedJob)(nil)).
		Where("job_id = ?", jobID).
		Where("state = ?", StateCompleted).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("is completed %s: %w", jobID, err)
	}
	return exists, nil
}

// RecoverStale re-arms Processing rows older than the given age by
// moving them to Failed, making their IDs claimable again. Rows like
// this are left behind when a process dies mid-job, and Claim never
// returns true for Processing, so without recovery the ID is wedged.
// Runs at startup, before the worker loops begin consuming.
func (t *PostgresTracker) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	result, err := t.db.NewUpdate().
		Model((*ProcessedJob)(nil)).
		Set("state = ?", StateFailed).
		Set("updated_at = now()").
		Where("state = ?", StateProcessing).
		Where("updated_at < ?", time.Now().Add(-staleAfter)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale ledger rows: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		t.log.Warn("recovered stale ledger rows",
			slog.Int64("count", count),
			slog.Duration("stale_after", staleAfter))
	}
	return int(count), nil
}

// Sweep deletes terminal ledger rows older than the given age and
// returns how many were removed.
func (t *PostgresTracker) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := t.db.NewDelete().
		Model((*ProcessedJob)(nil)).
		Where("state IN (?, ?)", StateCompleted, StateFailed).
		Where("updated_at < ?", time.Now().Add(-olderThan)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		t.log.Debug("swept ledger entries", slog.Int64("count", count))
	}
	return int(count), nil
}
