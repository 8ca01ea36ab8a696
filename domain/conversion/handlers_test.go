package conversion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dms/meridian-core/domain/documents"
	"github.com/meridian-dms/meridian-core/domain/progress"
	"github.com/meridian-dms/meridian-core/internal/storage"
)

// fakeStore is an in-memory VersionStore that records mutations.
type fakeStore struct {
	version *documents.DocumentVersion
	doc     *documents.Document
	file    *documents.File

	getVersionErr error

	completedConversions []documents.NewArtifact
	completedProperties  []documents.NewArtifact
	beginCalls           int
}

func (s *fakeStore) GetVersion(_ context.Context, versionID string) (*documents.DocumentVersion, error) {
	if s.getVersionErr != nil {
		return nil, s.getVersionErr
	}
	if s.version == nil || s.version.ID != versionID {
		return nil, nil
	}
	return s.version, nil
}

func (s *fakeStore) GetDocument(_ context.Context, documentID string) (*documents.Document, error) {
	if s.doc == nil || s.doc.ID != documentID {
		return nil, nil
	}
	return s.doc, nil
}

func (s *fakeStore) GetFile(_ context.Context, fileID string) (*documents.File, error) {
	if s.file == nil || s.file.ID != fileID {
		return nil, nil
	}
	return s.file, nil
}

func (s *fakeStore) TryBeginProcessing(_ context.Context, versionID string) (bool, error) {
	s.beginCalls++
	if s.version == nil || s.version.ID != versionID {
		return false, nil
	}
	if s.version.Status != documents.StatusPending && s.version.Status != documents.StatusFailed {
		return false, nil
	}
	s.version.Status = documents.StatusProcessing
	return true, nil
}

func (s *fakeStore) CompleteConversion(_ context.Context, versionID string, artifact documents.NewArtifact) (*documents.File, error) {
	s.completedConversions = append(s.completedConversions, artifact)
	fileID := "converted-file-1"
	now := time.Now().UTC()
	s.version.ConvertedFileID = &fileID
	s.version.Status = documents.StatusReady
	s.version.ErrorMessage = nil
	s.version.ProcessedAt = &now
	return &documents.File{ID: fileID, StorageKey: artifact.StorageKey}, nil
}

func (s *fakeStore) CompleteProperties(_ context.Context, versionID string, artifact documents.NewArtifact) (*documents.File, error) {
	s.completedProperties = append(s.completedProperties, artifact)
	fileID := "properties-file-1"
	now := time.Now().UTC()
	s.version.PropertiesFileID = &fileID
	s.version.ProcessedAt = &now
	return &documents.File{ID: fileID, StorageKey: artifact.StorageKey}, nil
}

func (s *fakeStore) MarkConversionFailed(_ context.Context, versionID, message string) error {
	now := time.Now().UTC()
	if s.version != nil && s.version.ID == versionID {
		s.version.Status = documents.StatusFailed
		s.version.ErrorMessage = &message
		s.version.ProcessedAt = &now
	}
	return nil
}

func (s *fakeStore) SetPropertiesError(_ context.Context, versionID, message string) error {
	if s.version != nil && s.version.ID == versionID {
		s.version.ErrorMessage = &message
	}
	return nil
}

// fakeObjects is an in-memory ObjectStore.
type fakeObjects struct {
	blobs     map[string][]byte
	uploads   []string
	uploadErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blobs: map[string][]byte{}}
}

func (o *fakeObjects) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := o.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *fakeObjects) Upload(_ context.Context, key string, data io.Reader, _ int64, _ storage.UploadOptions) (*storage.UploadResult, error) {
	if o.uploadErr != nil {
		return nil, o.uploadErr
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	o.blobs[key] = payload
	o.uploads = append(o.uploads, key)
	return &storage.UploadResult{Key: key, Size: int64(len(payload))}, nil
}

func (o *fakeObjects) Provider() string { return "minio" }

// fakeEngine returns canned output.
type fakeEngine struct {
	convertOut    []byte
	convertErr    error
	propertiesOut []byte
	propertiesErr error
	calls         int
}

func (e *fakeEngine) Convert(_ context.Context, _ string) ([]byte, error) {
	e.calls++
	return e.convertOut, e.convertErr
}

func (e *fakeEngine) ExtractProperties(_ context.Context, _ string) ([]byte, error) {
	e.calls++
	return e.propertiesOut, e.propertiesErr
}

// fakeNotifier records every published update.
type fakeNotifier struct {
	updates []progress.Update
}

func (n *fakeNotifier) Publish(_ context.Context, update progress.Update) {
	n.updates = append(n.updates, update)
}

func (n *fakeNotifier) last(t *testing.T) progress.Update {
	t.Helper()
	require.NotEmpty(t, n.updates)
	return n.updates[len(n.updates)-1]
}

func pendingFixture() (*fakeStore, *fakeObjects) {
	store := &fakeStore{
		version: &documents.DocumentVersion{
			ID:           "ver-1",
			DocumentID:   "doc-1",
			SourceFileID: "src-1",
			Status:       documents.StatusPending,
		},
		doc: &documents.Document{ID: "doc-1", ProjectID: "proj-1", Name: "bracket"},
		file: &documents.File{
			ID:         "src-1",
			ProjectID:  "proj-1",
			StorageKey: "proj-1/source/src-1-bracket_step",
			Filename:   "bracket.step",
			MimeType:   "application/step",
			SizeBytes:  13,
		},
	}
	objects := newFakeObjects()
	objects.blobs[store.file.StorageKey] = []byte("ISO-10303-21;")
	return store, objects
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertHandler_HappyPath(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{convertOut: []byte("glb-bytes")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-1", documents.VersionJobPayload{VersionID: "ver-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusReady, store.version.Status)
	require.NotNil(t, store.version.ConvertedFileID)
	assert.Nil(t, store.version.ErrorMessage)
	assert.NotNil(t, store.version.ProcessedAt)

	require.Len(t, store.completedConversions, 1)
	artifact := store.completedConversions[0]
	assert.Equal(t, documents.DerivationConversion, artifact.Kind)
	assert.Equal(t, "src-1", artifact.SourceFileID)
	assert.Equal(t, "minio", artifact.Provider)
	assert.Equal(t, "bracket.glb", artifact.Filename)
	assert.Equal(t, int64(len("glb-bytes")), artifact.SizeBytes)

	require.Len(t, objects.uploads, 1)
	assert.Equal(t, []byte("glb-bytes"), objects.blobs[artifact.StorageKey])

	last := notifier.last(t)
	assert.True(t, last.IsComplete)
	assert.True(t, last.IsSuccess)
	assert.Equal(t, 100, last.Percent)
}

func TestConvertHandler_ShortCircuitWhenAlreadyConverted(t *testing.T) {
	store, objects := pendingFixture()
	existing := "already-converted"
	store.version.Status = documents.StatusReady
	store.version.ConvertedFileID = &existing
	engine := &fakeEngine{convertOut: []byte("glb-bytes")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-2", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, engine.calls)
	assert.Empty(t, objects.uploads)
	assert.Empty(t, store.completedConversions)
	assert.Equal(t, 0, store.beginCalls)

	last := notifier.last(t)
	assert.True(t, last.IsComplete)
	assert.True(t, last.IsSuccess)
}

func TestConvertHandler_VersionNotFound(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, newFakeObjects(), &fakeEngine{}, notifier, discardLog())

	err := h.Handle(t.Context(), "job-3", documents.VersionJobPayload{VersionID: "missing"})
	require.NoError(t, err)

	last := notifier.last(t)
	assert.True(t, last.IsComplete)
	assert.False(t, last.IsSuccess)
	require.NotNil(t, last.ErrorMessage)
}

func TestConvertHandler_GuardRejectsInFlightVersion(t *testing.T) {
	store, objects := pendingFixture()
	store.version.Status = documents.StatusProcessing
	engine := &fakeEngine{convertOut: []byte("glb-bytes")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-4", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	// Silent abort: no conversion, no failure recorded, no terminal
	// notification.
	assert.Equal(t, 0, engine.calls)
	assert.Equal(t, documents.StatusProcessing, store.version.Status)
	for _, u := range notifier.updates {
		assert.False(t, u.IsComplete)
	}
}

func TestConvertHandler_SourceMissingFromStorage(t *testing.T) {
	store, objects := pendingFixture()
	delete(objects.blobs, store.file.StorageKey)
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, &fakeEngine{}, notifier, discardLog())

	err := h.Handle(t.Context(), "job-5", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusFailed, store.version.Status)
	require.NotNil(t, store.version.ErrorMessage)
	assert.Contains(t, *store.version.ErrorMessage, "missing from storage")
	assert.Empty(t, store.completedConversions)
	assert.Empty(t, objects.uploads)
}

func TestConvertHandler_EmptyEngineOutput(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{convertOut: nil}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-6", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusFailed, store.version.Status)
	require.NotNil(t, store.version.ErrorMessage)
	assert.Contains(t, *store.version.ErrorMessage, "no output")
	assert.Empty(t, objects.uploads)
}

func TestConvertHandler_EngineErrorReturnsNil(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{convertErr: errors.New("solid kernel rejected input")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	// The error is absorbed into the aggregate, so the worker marks the
	// job completed rather than failed.
	err := h.Handle(t.Context(), "job-7", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusFailed, store.version.Status)
	require.NotNil(t, store.version.ErrorMessage)
	assert.Contains(t, *store.version.ErrorMessage, "solid kernel rejected input")

	last := notifier.last(t)
	assert.True(t, last.IsComplete)
	assert.False(t, last.IsSuccess)
}

func TestConvertHandler_RetryAfterFailure(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{convertErr: errors.New("transient storage hiccup")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	require.NoError(t, h.Handle(t.Context(), "job-8", documents.VersionJobPayload{VersionID: "ver-1"}))
	require.Equal(t, documents.StatusFailed, store.version.Status)

	// A fresh job drives failed -> processing -> ready.
	engine.convertErr = nil
	engine.convertOut = []byte("glb-bytes")
	require.NoError(t, h.Handle(t.Context(), "job-9", documents.VersionJobPayload{VersionID: "ver-1"}))

	assert.Equal(t, documents.StatusReady, store.version.Status)
	assert.Nil(t, store.version.ErrorMessage)
	require.Len(t, store.completedConversions, 1)
}

func TestConvertHandler_StorageUploadFailure(t *testing.T) {
	store, objects := pendingFixture()
	objects.uploadErr = errors.New("bucket gone")
	engine := &fakeEngine{convertOut: []byte("glb-bytes")}
	notifier := &fakeNotifier{}
	h := NewConvertVersionHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-10", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusFailed, store.version.Status)
	assert.Empty(t, store.completedConversions)
}

func TestPropertiesHandler_HappyPathLeavesStatusAlone(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{propertiesOut: []byte(`{"units":"mm"}`)}
	notifier := &fakeNotifier{}
	h := NewExtractPropertiesHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-11", documents.VersionJobPayload{VersionID: "ver-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	// Status belongs to the conversion pipeline.
	assert.Equal(t, documents.StatusPending, store.version.Status)
	assert.Equal(t, 0, store.beginCalls)
	require.NotNil(t, store.version.PropertiesFileID)

	require.Len(t, store.completedProperties, 1)
	artifact := store.completedProperties[0]
	assert.Equal(t, documents.DerivationProperties, artifact.Kind)
	assert.Equal(t, "bracket.properties.json", artifact.Filename)

	last := notifier.last(t)
	assert.True(t, last.IsSuccess)
}

func TestPropertiesHandler_ShortCircuitWhenAlreadyExtracted(t *testing.T) {
	store, objects := pendingFixture()
	existing := "props-file"
	store.version.PropertiesFileID = &existing
	engine := &fakeEngine{propertiesOut: []byte(`{}`)}
	notifier := &fakeNotifier{}
	h := NewExtractPropertiesHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-12", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, engine.calls)
	assert.Empty(t, objects.uploads)
	assert.Empty(t, store.completedProperties)
	assert.True(t, notifier.last(t).IsSuccess)
}

func TestPropertiesHandler_FailureWritesErrorOnly(t *testing.T) {
	store, objects := pendingFixture()
	engine := &fakeEngine{propertiesErr: errors.New("no metadata block")}
	notifier := &fakeNotifier{}
	h := NewExtractPropertiesHandler(store, objects, engine, notifier, discardLog())

	err := h.Handle(t.Context(), "job-13", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusPending, store.version.Status)
	require.NotNil(t, store.version.ErrorMessage)
	assert.Contains(t, *store.version.ErrorMessage, "no metadata block")
	assert.Nil(t, store.version.PropertiesFileID)

	last := notifier.last(t)
	assert.True(t, last.IsComplete)
	assert.False(t, last.IsSuccess)
}

func TestPropertiesHandler_SourceMissingFromStorage(t *testing.T) {
	store, objects := pendingFixture()
	delete(objects.blobs, store.file.StorageKey)
	notifier := &fakeNotifier{}
	h := NewExtractPropertiesHandler(store, objects, &fakeEngine{}, notifier, discardLog())

	err := h.Handle(t.Context(), "job-14", documents.VersionJobPayload{VersionID: "ver-1"})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusPending, store.version.Status)
	require.NotNil(t, store.version.ErrorMessage)
	assert.Empty(t, store.completedProperties)
}
