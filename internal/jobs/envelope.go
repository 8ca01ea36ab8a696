// Package jobs provides the asynchronous job-processing core: job
// envelopes, the processing queue, the handler registry, the
// processed-job idempotency ledger, and the worker runtime.
//
// Producers wrap typed payloads into envelopes and enqueue them; one or
// more worker loops dequeue, claim each job exactly once in the ledger,
// and dispatch to the registered handler for the envelope's type.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current envelope wire-format version.
// Decoding ignores unknown fields, so older readers tolerate newer
// envelopes and the version only needs to move on breaking changes.
const EnvelopeVersion = 1

// JobEnvelope is the serialized, type-tagged unit of work placed on the
// queue. JobID is unique per attempt; retrying the same logical work may
// reuse it (caller-controlled dedup) or mint a fresh one.
type JobEnvelope struct {
	JobID     string          `json:"jobId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Version   int             `json:"version"`
}

// NewEnvelope wraps a typed payload into an envelope with a freshly
// minted JobID.
func NewEnvelope[T any](jobType string, payload T) (*JobEnvelope, error) {
	return NewEnvelopeWithID(uuid.New().String(), jobType, payload)
}

// NewEnvelopeWithID wraps a typed payload into an envelope with a
// caller-supplied JobID, letting the caller control deduplication.
func NewEnvelopeWithID[T any](jobID, jobType string, payload T) (*JobEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	return &JobEnvelope{
		JobID:     jobID,
		Type:      jobType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
		Version:   EnvelopeVersion,
	}, nil
}
