// Package conversion contains the job handlers that drive a document
// version through format conversion and properties extraction. Handlers
// are side-effecting only: their outcome is communicated through the
// version's status and through progress notifications, never through a
// return value. A returned error is reserved for defects the worker
// should record as a failed job.
package conversion

import (
	"context"
	"io"

	"github.com/meridian-dms/meridian-core/domain/documents"
	"github.com/meridian-dms/meridian-core/internal/storage"
)

// VersionStore is the slice of the documents repository the pipelines
// need. *documents.Repository satisfies it.
type VersionStore interface {
	GetVersion(ctx context.Context, versionID string) (*documents.DocumentVersion, error)
	GetDocument(ctx context.Context, documentID string) (*documents.Document, error)
	GetFile(ctx context.Context, fileID string) (*documents.File, error)
	TryBeginProcessing(ctx context.Context, versionID string) (bool, error)
	CompleteConversion(ctx context.Context, versionID string, artifact documents.NewArtifact) (*documents.File, error)
	CompleteProperties(ctx context.Context, versionID string, artifact documents.NewArtifact) (*documents.File, error)
	MarkConversionFailed(ctx context.Context, versionID, message string) error
	SetPropertiesError(ctx context.Context, versionID, message string) error
}

// ObjectStore is the slice of the storage service the pipelines need.
// *storage.Service satisfies it; Download reports absent keys with
// storage.ErrNotFound.
type ObjectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error)
	Provider() string
}

// Engine is the external conversion engine: local file path in, derived
// payload out. *convertd.Client satisfies it.
type Engine interface {
	Convert(ctx context.Context, path string) ([]byte, error)
	ExtractProperties(ctx context.Context, path string) ([]byte, error)
}
