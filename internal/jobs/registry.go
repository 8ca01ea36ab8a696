package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadPayload marks a payload that could not be decoded for its
// registered type. Jobs failing this way are poison messages: they are
// marked Failed in the ledger without the handler ever running.
var ErrBadPayload = errors.New("jobs: payload does not match registered type")

// Handler is implemented by typed job handlers. Handle is side-effecting
// only: outcome is communicated through the aggregate's status and
// progress notifications, never through the return value. A non-nil
// error means the dispatch itself failed, not the domain work.
type Handler[T any] interface {
	Handle(ctx context.Context, jobID string, payload T) error
}

// HandlerFunc is the type-erased form of a handler stored in the
// registry: raw payload in, dispatch error out.
type HandlerFunc func(ctx context.Context, jobID string, payload []byte) error

// Registration binds a job-type name to its pre-bound dispatch closure.
type Registration struct {
	JobType string
	handle  HandlerFunc
}

// Register builds a Registration for a typed handler. The payload type
// is captured here, while it is still statically known: the returned
// closure decodes the raw payload into T and invokes the typed handler,
// so the dispatcher never needs runtime type information.
func Register[T any](jobType string, h Handler[T]) Registration {
	return Registration{
		JobType: jobType,
		handle: func(ctx context.Context, jobID string, payload []byte) error {
			var p T
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrBadPayload, jobType, err)
			}
			return h.Handle(ctx, jobID, p)
		},
	}
}

// Registry maps job-type names to dispatch closures. It is populated
// once at startup and immutable afterwards, so lookups need no locking.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry builds a registry from a static list of registrations.
// Duplicate job types are a startup configuration error.
func NewRegistry(regs ...Registration) (*Registry, error) {
	handlers := make(map[string]HandlerFunc, len(regs))
	for _, reg := range regs {
		if _, exists := handlers[reg.JobType]; exists {
			return nil, fmt.Errorf("duplicate registration for job type %q", reg.JobType)
		}
		handlers[reg.JobType] = reg.handle
	}
	return &Registry{handlers: handlers}, nil
}

// Lookup returns the dispatch closure for a job type, or nil when the
// type is unknown (a poison message).
func (r *Registry) Lookup(jobType string) HandlerFunc {
	return r.handlers[jobType]
}

// Types returns all registered job-type names.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
