package jobs

import (
	"fmt"
	"log/slog"

	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// Submitter wraps typed payloads into envelopes and hands them to the
// queue. Enqueue is non-blocking, so submission is safe from request
// paths.
type Submitter struct {
	queue Queue
	log   *slog.Logger
}

// NewSubmitter creates a submitter over the shared queue.
func NewSubmitter(queue Queue, log *slog.Logger) *Submitter {
	return &Submitter{
		queue: queue,
		log:   log.With(logger.Scope("jobs.submit")),
	}
}

// Submit enqueues a typed payload under a freshly minted JobID and
// returns that ID.
func Submit[T any](s *Submitter, jobType string, payload T) (string, error) {
	env, err := NewEnvelope(jobType, payload)
	if err != nil {
		return "", err
	}
	return submit(s, env)
}

// SubmitWithID enqueues a typed payload under a caller-supplied JobID,
// letting the caller control deduplication across redeliveries.
func SubmitWithID[T any](s *Submitter, jobID, jobType string, payload T) (string, error) {
	env, err := NewEnvelopeWithID(jobID, jobType, payload)
	if err != nil {
		return "", err
	}
	return submit(s, env)
}

func submit(s *Submitter, env *JobEnvelope) (string, error) {
	if err := s.queue.Enqueue(env); err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", env.Type, err)
	}

	s.log.Debug("job enqueued",
		slog.String("job_id", env.JobID),
		slog.String("job_type", env.Type),
	)
	return env.JobID, nil
}
