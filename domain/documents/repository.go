package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// Repository handles document, version, file, and lineage persistence
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new documents repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents.repo")),
	}
}

// GetDocument retrieves a document by ID. Returns nil, nil when absent.
func (r *Repository) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var doc Document
	err := r.db.NewSelect().
		Model(&doc).
		Where("id = ?", documentID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// GetVersion retrieves a document version by ID. Returns nil, nil when absent.
func (r *Repository) GetVersion(ctx context.Context, versionID string) (*DocumentVersion, error) {
	var version DocumentVersion
	err := r.db.NewSelect().
		Model(&version).
		Where("id = ?", versionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document version: %w", err)
	}
	return &version, nil
}

// GetFile retrieves a file row by ID. Returns nil, nil when absent.
func (r *Repository) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	err := r.db.NewSelect().
		Model(&file).
		Where("id = ?", fileID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &file, nil
}

// CreateDocument inserts a new document
func (r *Repository) CreateDocument(ctx context.Context, doc *Document) error {
	if _, err := r.db.NewInsert().Model(doc).Exec(ctx); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// CreateVersionWithSource inserts the source file row and its pending
// version in one transaction, so a visible version always has a
// persisted source.
func (r *Repository) CreateVersionWithSource(ctx context.Context, source *File, version *DocumentVersion) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(source).Exec(ctx); err != nil {
			return fmt.Errorf("insert source file: %w", err)
		}
		if _, err := tx.NewInsert().Model(version).Exec(ctx); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create version with source: %w", err)
	}
	return nil
}

// TryBeginProcessing atomically moves a version from pending or failed
// to processing. It returns false when another run already holds the
// version (or it is already ready), which is how concurrent submissions
// for the same aggregate are serialized.
func (r *Repository) TryBeginProcessing(ctx context.Context, versionID string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*DocumentVersion)(nil)).
		Set("status = ?", StatusProcessing).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", versionID).
		Where("status IN (?, ?)", StatusPending, StatusFailed).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("begin processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin processing rows affected: %w", err)
	}
	return affected == 1, nil
}

// CompleteConversion records a successful conversion: the derived file
// row, its lineage edge, and the aggregate update happen in one
// transaction. Status moves to ready, ErrorMessage is cleared.
func (r *Repository) CompleteConversion(ctx context.Context, versionID string, artifact NewArtifact) (*File, error) {
	file, edge := buildArtifactRows(artifact)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(file).Exec(ctx); err != nil {
			return fmt.Errorf("insert derived file: %w", err)
		}
		if _, err := tx.NewInsert().Model(edge).Exec(ctx); err != nil {
			return fmt.Errorf("insert derivation edge: %w", err)
		}

		now := time.Now().UTC()
		_, err := tx.NewUpdate().
			Model((*DocumentVersion)(nil)).
			Set("converted_file_id = ?", file.ID).
			Set("status = ?", StatusReady).
			Set("error_message = NULL").
			Set("processed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", versionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete conversion: %w", err)
	}

	r.log.Info("conversion artifact persisted",
		slog.String("version_id", versionID),
		slog.String("file_id", file.ID),
	)
	return file, nil
}

// CompleteProperties records a successful properties extraction. The
// version gains a properties file reference and a ProcessedAt stamp;
// Status is left untouched, the conversion pipeline owns it.
func (r *Repository) CompleteProperties(ctx context.Context, versionID string, artifact NewArtifact) (*File, error) {
	file, edge := buildArtifactRows(artifact)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(file).Exec(ctx); err != nil {
			return fmt.Errorf("insert properties file: %w", err)
		}
		if _, err := tx.NewInsert().Model(edge).Exec(ctx); err != nil {
			return fmt.Errorf("insert derivation edge: %w", err)
		}

		now := time.Now().UTC()
		_, err := tx.NewUpdate().
			Model((*DocumentVersion)(nil)).
			Set("properties_file_id = ?", file.ID).
			Set("processed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", versionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete properties: %w", err)
	}

	r.log.Info("properties artifact persisted",
		slog.String("version_id", versionID),
		slog.String("file_id", file.ID),
	)
	return file, nil
}

// MarkConversionFailed records a definitive conversion failure on the
// aggregate: Status failed, the message, and a ProcessedAt stamp.
func (r *Repository) MarkConversionFailed(ctx context.Context, versionID, message string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*DocumentVersion)(nil)).
		Set("status = ?", StatusFailed).
		Set("error_message = ?", message).
		Set("processed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", versionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark conversion failed: %w", err)
	}
	return nil
}

// SetPropertiesError records a properties-extraction failure message
// without touching Status.
func (r *Repository) SetPropertiesError(ctx context.Context, versionID, message string) error {
	_, err := r.db.NewUpdate().
		Model((*DocumentVersion)(nil)).
		Set("error_message = ?", message).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", versionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set properties error: %w", err)
	}
	return nil
}

// NextVersionNumber returns the next sequential version number for a
// document.
func (r *Repository) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	var current int
	err := r.db.NewSelect().
		Model((*DocumentVersion)(nil)).
		ColumnExpr("COALESCE(MAX(version_number), 0)").
		Where("document_id = ?", documentID).
		Scan(ctx, &current)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return current + 1, nil
}

// ListDerivations returns the lineage edges originating at a source file.
func (r *Repository) ListDerivations(ctx context.Context, sourceFileID string) ([]FileDerivation, error) {
	var edges []FileDerivation
	err := r.db.NewSelect().
		Model(&edges).
		Where("source_file_id = ?", sourceFileID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list derivations: %w", err)
	}
	return edges, nil
}

func buildArtifactRows(artifact NewArtifact) (*File, *FileDerivation) {
	now := time.Now().UTC()
	file := &File{
		ID:              uuid.New().String(),
		ProjectID:       artifact.ProjectID,
		StorageKey:      artifact.StorageKey,
		StorageProvider: artifact.Provider,
		Filename:        artifact.Filename,
		MimeType:        artifact.MimeType,
		SizeBytes:       artifact.SizeBytes,
		CreatedAt:       now,
	}
	edge := &FileDerivation{
		ID:            uuid.New().String(),
		SourceFileID:  artifact.SourceFileID,
		DerivedFileID: file.ID,
		Kind:          artifact.Kind,
		CreatedAt:     now,
	}
	return file, edge
}
