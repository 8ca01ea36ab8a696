// Package progress is the one-way progress notification sink for job
// pipelines. Publishing is fire-and-forget: a notification failure is
// logged and swallowed, it never fails the job that reported it.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// Update is one progress report from a job pipeline.
type Update struct {
	JobID        string  `json:"jobId"`
	AggregateID  string  `json:"aggregateId"`
	Stage        string  `json:"stage"`
	Percent      int     `json:"percent"`
	Message      string  `json:"message"`
	IsComplete   bool    `json:"isComplete"`
	IsSuccess    bool    `json:"isSuccess"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// Notifier is the sink job handlers publish progress to.
type Notifier interface {
	Publish(ctx context.Context, update Update)
}

// Event is a persisted progress update from the progress_events table.
// Rows are append-only; the submitter polls the latest rows per
// aggregate to render pipeline progress.
type Event struct {
	bun.BaseModel `bun:"table:progress_events"`

	ID           string    `bun:"id,pk" json:"id"`
	JobID        string    `bun:"job_id" json:"jobId"`
	AggregateID  string    `bun:"aggregate_id" json:"aggregateId"`
	Stage        string    `bun:"stage" json:"stage"`
	Percent      int       `bun:"percent" json:"percent"`
	Message      string    `bun:"message" json:"message"`
	IsComplete   bool      `bun:"is_complete" json:"isComplete"`
	IsSuccess    bool      `bun:"is_success" json:"isSuccess"`
	ErrorMessage *string   `bun:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `bun:"created_at" json:"createdAt"`
}

// Sink persists progress events to Postgres.
type Sink struct {
	db  bun.IDB
	log *slog.Logger
}

// NewSink creates a persisting progress sink.
func NewSink(db bun.IDB, log *slog.Logger) *Sink {
	return &Sink{
		db:  db,
		log: log.With(logger.Scope("progress")),
	}
}

// Publish persists the update. Errors are logged, never returned.
func (s *Sink) Publish(ctx context.Context, update Update) {
	event := &Event{
		ID:           uuid.New().String(),
		JobID:        update.JobID,
		AggregateID:  update.AggregateID,
		Stage:        update.Stage,
		Percent:      update.Percent,
		Message:      update.Message,
		IsComplete:   update.IsComplete,
		IsSuccess:    update.IsSuccess,
		ErrorMessage: update.ErrorMessage,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := s.db.NewInsert().Model(event).Exec(ctx); err != nil {
		s.log.Warn("failed to persist progress event",
			slog.String("job_id", update.JobID),
			slog.String("aggregate_id", update.AggregateID),
			slog.String("stage", update.Stage),
			logger.Error(err),
		)
		return
	}

	s.log.Debug("progress published",
		slog.String("aggregate_id", update.AggregateID),
		slog.String("stage", update.Stage),
		slog.Int("percent", update.Percent),
	)
}

// Latest returns the most recent progress events for an aggregate,
// newest first.
func (s *Sink) Latest(ctx context.Context, aggregateID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []Event
	err := s.db.NewSelect().
		Model(&events).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

var Module = fx.Module("progress",
	fx.Provide(
		NewSink,
		func(s *Sink) Notifier { return s },
	),
)
