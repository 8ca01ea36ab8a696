package jobs

import (
	"context"
	"sync"
	"time"
)

// JobState is the per-job state in the processed-job ledger.
type JobState string

const (
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// Tracker is the idempotency ledger keyed by JobID. The state machine:
//
//	absent     --Claim-->        Processing (true)
//	Processing --Claim-->        Processing (false, duplicate)
//	Processing --MarkCompleted-> Completed  (terminal)
//	Processing --MarkFailed-->   Failed
//	Failed     --Claim-->        Processing (true, retry armed)
//
// Claim must be atomic: envelopes can be redelivered after a crash or
// under at-least-once queue semantics, and multiple worker loops share
// one ledger.
type Tracker interface {
	Claim(ctx context.Context, jobID string) (bool, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string) error
	IsCompleted(ctx context.Context, jobID string) (bool, error)
}

type ledgerEntry struct {
	state     JobState
	updatedAt time.Time
}

// MemoryTracker is the reference in-process ledger: a mutex-guarded map
// wiped on restart. A crash-survivable deployment should use
// PostgresTracker, which keeps the same four-state contract.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

// NewMemoryTracker creates an empty in-memory ledger.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[string]*ledgerEntry),
	}
}

// Claim attempts to take ownership of a job ID. It returns true for a
// fresh ID and for a Failed ID (re-arming a retry), false when the job
// is already Processing or Completed.
func (t *MemoryTracker) Claim(_ context.Context, jobID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[jobID]
	if !exists {
		t.entries[jobID] = &ledgerEntry{state: StateProcessing, updatedAt: time.Now()}
		return true, nil
	}
	if entry.state != StateFailed {
		return false, nil
	}
	entry.state = StateProcessing
	entry.updatedAt = time.Now()
	return true, nil
}

// MarkCompleted records a terminal successful outcome. Every later
// Claim for the ID returns false, permanently.
func (t *MemoryTracker) MarkCompleted(_ context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[jobID] = &ledgerEntry{state: StateCompleted, updatedAt: time.Now()}
	return nil
}

// MarkFailed records a failed attempt, making the ID claimable again.
// Completed is terminal and is never downgraded.
func (t *MemoryTracker) MarkFailed(_ context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.entries[jobID]; exists && entry.state == StateCompleted {
		return nil
	}
	t.entries[jobID] = &ledgerEntry{state: StateFailed, updatedAt: time.Now()}
	return nil
}

// IsCompleted reports whether the job reached the terminal Completed
// state, without claiming it.
func (t *MemoryTracker) IsCompleted(_ context.Context, jobID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[jobID]
	return exists && entry.state == StateCompleted, nil
}

// Sweep removes terminal entries (Completed or Failed) older than the
// given age and returns how many were removed. Processing entries are
// never swept: they belong to in-flight work.
func (t *MemoryTracker) Sweep(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, entry := range t.entries {
		if entry.state == StateProcessing {
			continue
		}
		if entry.updatedAt.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// RecoverStale re-arms Processing entries older than the given age by
// moving them to Failed, so their IDs become claimable again. A crash
// or a lost outcome write can leave a Processing entry behind with no
// loop working it; without recovery that ID is wedged forever.
func (t *MemoryTracker) RecoverStale(staleAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	recovered := 0
	for _, entry := range t.entries {
		if entry.state == StateProcessing && entry.updatedAt.Before(cutoff) {
			entry.state = StateFailed
			entry.updatedAt = time.Now()
			recovered++
		}
	}
	return recovered
}

// Len returns the number of ledger entries.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
