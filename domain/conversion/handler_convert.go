package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-dms/meridian-core/domain/documents"
	"github.com/meridian-dms/meridian-core/domain/progress"
	"github.com/meridian-dms/meridian-core/internal/storage"
	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// ConvertedMimeType is the content type of converted viewer artifacts.
const ConvertedMimeType = "model/gltf-binary"

// ConvertVersionHandler converts a document version's source file into
// the viewer-ready format. It owns the version's Status field: every
// run ends with the aggregate in ready or failed (or untouched, when
// another run already holds it).
type ConvertVersionHandler struct {
	store    VersionStore
	objects  ObjectStore
	engine   Engine
	notifier progress.Notifier
	log      *slog.Logger
}

// NewConvertVersionHandler creates the conversion pipeline handler
func NewConvertVersionHandler(store VersionStore, objects ObjectStore, engine Engine, notifier progress.Notifier, log *slog.Logger) *ConvertVersionHandler {
	return &ConvertVersionHandler{
		store:    store,
		objects:  objects,
		engine:   engine,
		notifier: notifier,
		log:      log.With(logger.Scope("conversion.convert")),
	}
}

// Handle runs the conversion pipeline. Domain failures are recorded on
// the aggregate and notified, then Handle returns nil: the job ran to a
// definitive outcome and must not be retried by ledger logic. Retrying
// a failed version takes a fresh, explicitly submitted job.
func (h *ConvertVersionHandler) Handle(ctx context.Context, jobID string, payload documents.VersionJobPayload) error {
	log := h.log.With(
		slog.String("job_id", jobID),
		slog.String("version_id", payload.VersionID),
	)
	h.notify(ctx, jobID, payload.VersionID, "loading", 5, "Loading document version")

	version, err := h.store.GetVersion(ctx, payload.VersionID)
	if err != nil {
		log.Error("failed to load version", logger.Error(err))
		h.notifyFailure(ctx, jobID, payload.VersionID, "Failed to load document version")
		return nil
	}
	if version == nil {
		log.Warn("version not found")
		h.notifyFailure(ctx, jobID, payload.VersionID, "Document version not found")
		return nil
	}

	// The same logical work can be resubmitted under a fresh JobID, so
	// the job-ID ledger upstream cannot catch this duplicate.
	if version.IsConverted() {
		log.Info("version already converted, skipping")
		h.notifySuccess(ctx, jobID, version.ID, "Already converted")
		return nil
	}

	claimed, err := h.store.TryBeginProcessing(ctx, version.ID)
	if err != nil {
		log.Error("failed to begin processing", logger.Error(err))
		h.notifyFailure(ctx, jobID, version.ID, "Failed to begin processing")
		return nil
	}
	if !claimed {
		log.Debug("version held by another run, aborting",
			slog.String("status", string(version.Status)))
		return nil
	}

	doc, err := h.store.GetDocument(ctx, version.DocumentID)
	if err != nil || doc == nil {
		h.fail(ctx, jobID, version.ID, "Parent document not found", log, err)
		return nil
	}
	source, err := h.store.GetFile(ctx, version.SourceFileID)
	if err != nil || source == nil {
		h.fail(ctx, jobID, version.ID, "Source file record not found", log, err)
		return nil
	}

	h.notify(ctx, jobID, version.ID, "converting", 25, fmt.Sprintf("Converting %s", source.Filename))

	rc, err := h.objects.Download(ctx, source.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.fail(ctx, jobID, version.ID, "Source file is missing from storage", log, err)
		} else {
			h.fail(ctx, jobID, version.ID, "Failed to read source file from storage", log, err)
		}
		return nil
	}

	scratch, cleanup, err := materializeScratch(rc, source.Filename)
	rc.Close()
	if err != nil {
		h.fail(ctx, jobID, version.ID, "Failed to stage source file for conversion", log, err)
		return nil
	}
	defer cleanup()

	converted, err := h.engine.Convert(ctx, scratch)
	if err != nil {
		h.fail(ctx, jobID, version.ID, fmt.Sprintf("Conversion failed: %v", err), log, err)
		return nil
	}
	if len(converted) == 0 {
		h.fail(ctx, jobID, version.ID, "Conversion produced no output", log, nil)
		return nil
	}

	h.notify(ctx, jobID, version.ID, "storing", 75, "Storing converted artifact")

	filename := derivedFilename(source.Filename, ".glb")
	key := storage.GenerateArtifactKey(doc.ProjectID, filename)
	_, err = h.objects.Upload(ctx, key, bytes.NewReader(converted), int64(len(converted)), storage.UploadOptions{
		ContentType: ConvertedMimeType,
	})
	if err != nil {
		h.fail(ctx, jobID, version.ID, "Failed to store converted artifact", log, err)
		return nil
	}

	file, err := h.store.CompleteConversion(ctx, version.ID, documents.NewArtifact{
		ProjectID:    doc.ProjectID,
		StorageKey:   key,
		Provider:     h.objects.Provider(),
		Filename:     filename,
		MimeType:     ConvertedMimeType,
		SizeBytes:    int64(len(converted)),
		SourceFileID: source.ID,
		Kind:         documents.DerivationConversion,
	})
	if err != nil {
		h.fail(ctx, jobID, version.ID, "Failed to record converted artifact", log, err)
		return nil
	}

	log.Info("version converted",
		slog.String("file_id", file.ID),
		slog.Int("size_bytes", len(converted)),
	)
	h.notifySuccess(ctx, jobID, version.ID, "Conversion complete")
	return nil
}

// fail records the failure on the aggregate and notifies it. The
// version stays retryable: the state guard accepts failed as a valid
// start state for a fresh job.
func (h *ConvertVersionHandler) fail(ctx context.Context, jobID, versionID, message string, log *slog.Logger, cause error) {
	if cause != nil {
		log.Warn("conversion failed", slog.String("message", message), logger.Error(cause))
	} else {
		log.Warn("conversion failed", slog.String("message", message))
	}
	if err := h.store.MarkConversionFailed(ctx, versionID, message); err != nil {
		log.Error("failed to record conversion failure", logger.Error(err))
	}
	h.notifyFailure(ctx, jobID, versionID, message)
}

func (h *ConvertVersionHandler) notify(ctx context.Context, jobID, versionID, stage string, percent int, message string) {
	h.notifier.Publish(ctx, progress.Update{
		JobID:       jobID,
		AggregateID: versionID,
		Stage:       stage,
		Percent:     percent,
		Message:     message,
	})
}

func (h *ConvertVersionHandler) notifySuccess(ctx context.Context, jobID, versionID, message string) {
	h.notifier.Publish(ctx, progress.Update{
		JobID:       jobID,
		AggregateID: versionID,
		Stage:       "complete",
		Percent:     100,
		Message:     message,
		IsComplete:  true,
		IsSuccess:   true,
	})
}

func (h *ConvertVersionHandler) notifyFailure(ctx context.Context, jobID, versionID, message string) {
	h.notifier.Publish(ctx, progress.Update{
		JobID:        jobID,
		AggregateID:  versionID,
		Stage:        "failed",
		Percent:      100,
		Message:      message,
		IsComplete:   true,
		ErrorMessage: &message,
	})
}
