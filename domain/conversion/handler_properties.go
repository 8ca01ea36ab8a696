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

// PropertiesMimeType is the content type of extracted properties artifacts.
const PropertiesMimeType = "application/json"

// ExtractPropertiesHandler extracts document properties (author, units,
// part metadata) into a JSON artifact. It is a side pipeline: it never
// reads or writes the version's Status, only PropertiesFileID and
// ErrorMessage, so it cannot race the conversion pipeline's state
// machine.
type ExtractPropertiesHandler struct {
	store    VersionStore
	objects  ObjectStore
	engine   Engine
	notifier progress.Notifier
	log      *slog.Logger
}

// NewExtractPropertiesHandler creates the properties pipeline handler
func NewExtractPropertiesHandler(store VersionStore, objects ObjectStore, engine Engine, notifier progress.Notifier, log *slog.Logger) *ExtractPropertiesHandler {
	return &ExtractPropertiesHandler{
		store:    store,
		objects:  objects,
		engine:   engine,
		notifier: notifier,
		log:      log.With(logger.Scope("conversion.properties")),
	}
}

// Handle runs the properties pipeline. Failures are recorded as the
// version's ErrorMessage and notified, then Handle returns nil, same
// run-to-definitive-outcome contract as the conversion pipeline.
func (h *ExtractPropertiesHandler) Handle(ctx context.Context, jobID string, payload documents.VersionJobPayload) error {
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

	if version.HasProperties() {
		log.Info("properties already extracted, skipping")
		h.notifySuccess(ctx, jobID, version.ID, "Properties already extracted")
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

	h.notify(ctx, jobID, version.ID, "extracting", 25, fmt.Sprintf("Extracting properties from %s", source.Filename))

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
		h.fail(ctx, jobID, version.ID, "Failed to stage source file for extraction", log, err)
		return nil
	}
	defer cleanup()

	properties, err := h.engine.ExtractProperties(ctx, scratch)
	if err != nil {
		h.fail(ctx, jobID, version.ID, fmt.Sprintf("Properties extraction failed: %v", err), log, err)
		return nil
	}
	if len(properties) == 0 {
		h.fail(ctx, jobID, version.ID, "Properties extraction produced no output", log, nil)
		return nil
	}

	h.notify(ctx, jobID, version.ID, "storing", 75, "Storing properties artifact")

	filename := derivedFilename(source.Filename, ".properties.json")
	key := storage.GenerateArtifactKey(doc.ProjectID, filename)
	_, err = h.objects.Upload(ctx, key, bytes.NewReader(properties), int64(len(properties)), storage.UploadOptions{
		ContentType: PropertiesMimeType,
	})
	if err != nil {
		h.fail(ctx, jobID, version.ID, "Failed to store properties artifact", log, err)
		return nil
	}

	file, err := h.store.CompleteProperties(ctx, version.ID, documents.NewArtifact{
		ProjectID:    doc.ProjectID,
		StorageKey:   key,
		Provider:     h.objects.Provider(),
		Filename:     filename,
		MimeType:     PropertiesMimeType,
		SizeBytes:    int64(len(properties)),
		SourceFileID: source.ID,
		Kind:         documents.DerivationProperties,
	})
	if err != nil {
		h.fail(ctx, jobID, version.ID, "Failed to record properties artifact", log, err)
		return nil
	}

	log.Info("properties extracted", slog.String("file_id", file.ID))
	h.notifySuccess(ctx, jobID, version.ID, "Properties extraction complete")
	return nil
}

// fail records the message on the version without touching Status.
func (h *ExtractPropertiesHandler) fail(ctx context.Context, jobID, versionID, message string, log *slog.Logger, cause error) {
	if cause != nil {
		log.Warn("properties extraction failed", slog.String("message", message), logger.Error(cause))
	} else {
		log.Warn("properties extraction failed", slog.String("message", message))
	}
	if err := h.store.SetPropertiesError(ctx, versionID, message); err != nil {
		log.Error("failed to record properties failure", logger.Error(err))
	}
	h.notifyFailure(ctx, jobID, versionID, message)
}

func (h *ExtractPropertiesHandler) notify(ctx context.Context, jobID, versionID, stage string, percent int, message string) {
	h.notifier.Publish(ctx, progress.Update{
		JobID:       jobID,
		AggregateID: versionID,
		Stage:       stage,
		Percent:     percent,
		Message:     message,
	})
}

func (h *ExtractPropertiesHandler) notifySuccess(ctx context.Context, jobID, versionID, message string) {
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

func (h *ExtractPropertiesHandler) notifyFailure(ctx context.Context, jobID, versionID, message string) {
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
