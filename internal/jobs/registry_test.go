package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetPayload struct {
	Name string `json:"name"`
}

type greetHandler struct {
	gotJobID   string
	gotPayload greetPayload
	calls      int
	err        error
}

func (h *greetHandler) Handle(_ context.Context, jobID string, payload greetPayload) error {
	h.calls++
	h.gotJobID = jobID
	h.gotPayload = payload
	return h.err
}

func TestRegistry_DispatchDecodesTypedPayload(t *testing.T) {
	h := &greetHandler{}
	reg, err := NewRegistry(Register[greetPayload]("greet", h))
	require.NoError(t, err)

	fn := reg.Lookup("greet")
	require.NotNil(t, fn)

	raw, err := json.Marshal(greetPayload{Name: "ada"})
	require.NoError(t, err)

	require.NoError(t, fn(t.Context(), "job-1", raw))
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, "job-1", h.gotJobID)
	assert.Equal(t, "ada", h.gotPayload.Name)
}

func TestRegistry_LookupUnknownType(t *testing.T) {
	reg, err := NewRegistry(Register[greetPayload]("greet", &greetHandler{}))
	require.NoError(t, err)

	assert.Nil(t, reg.Lookup("missing"))
}

func TestRegistry_MalformedPayloadNeverReachesHandler(t *testing.T) {
	h := &greetHandler{}
	reg, err := NewRegistry(Register[greetPayload]("greet", h))
	require.NoError(t, err)

	fn := reg.Lookup("greet")
	require.NotNil(t, fn)

	err = fn(t.Context(), "job-1", []byte(`{"name":`))
	assert.ErrorIs(t, err, ErrBadPayload)
	assert.Equal(t, 0, h.calls)
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	_, err := NewRegistry(
		Register[greetPayload]("greet", &greetHandler{}),
		Register[greetPayload]("greet", &greetHandler{}),
	)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "greet")
}

func TestRegistry_Types(t *testing.T) {
	reg, err := NewRegistry(
		Register[greetPayload]("greet", &greetHandler{}),
		Register[greetPayload]("farewell", &greetHandler{}),
	)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"greet", "farewell"}, reg.Types())
}

func TestRegistry_HandlerErrorPropagates(t *testing.T) {
	h := &greetHandler{err: assert.AnError}
	reg, err := NewRegistry(Register[greetPayload]("greet", h))
	require.NoError(t, err)

	fn := reg.Lookup("greet")
	raw, _ := json.Marshal(greetPayload{Name: "ada"})

	err = fn(t.Context(), "job-1", raw)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, h.calls)
}
