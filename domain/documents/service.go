package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-dms/meridian-core/internal/jobs"
	"github.com/meridian-dms/meridian-core/pkg/logger"
)

// ErrNotFound is returned by service lookups when the entity does not exist.
var ErrNotFound = errors.New("documents: not found")

// Service handles document business logic and is the submission surface
// for version processing jobs.
type Service struct {
	repo      *Repository
	submitter *jobs.Submitter
	log       *slog.Logger
}

// NewService creates a new documents service
func NewService(repo *Repository, submitter *jobs.Submitter, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		submitter: submitter,
		log:       log.With(logger.Scope("documents.svc")),
	}
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return doc, nil
}

// GetVersion retrieves a document version by ID
func (s *Service) GetVersion(ctx context.Context, versionID string) (*DocumentVersion, error) {
	version, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrNotFound)
	}
	return version, nil
}

// CreateDocument creates a new document
func (s *Service) CreateDocument(ctx context.Context, projectID, name string, orgID *string) (*Document, error) {
	now := time.Now().UTC()
	doc := &Document{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		OrgID:     orgID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateVersion persists the source file and a pending version, then
// submits the conversion and properties jobs. Persisting first means
// every visible pending version has a corresponding submitted (or
// re-submittable) job.
func (s *Service) CreateVersion(ctx context.Context, params CreateVersionParams) (*CreateVersionResult, error) {
	doc, err := s.repo.GetDocument(ctx, params.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", params.DocumentID, ErrNotFound)
	}

	number, err := s.repo.NextVersionNumber(ctx, params.DocumentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	source := &File{
		ID:              uuid.New().String(),
		ProjectID:       params.ProjectID,
		StorageKey:      params.SourceFile.StorageKey,
		StorageProvider: params.SourceFile.Provider,
		Filename:        params.SourceFile.Filename,
		MimeType:        params.SourceFile.MimeType,
		SizeBytes:       params.SourceFile.SizeBytes,
		CreatedAt:       now,
	}
	version := &DocumentVersion{
		ID:            uuid.New().String(),
		DocumentID:    params.DocumentID,
		VersionNumber: number,
		SourceFileID:  source.ID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateVersionWithSource(ctx, source, version); err != nil {
		return nil, err
	}

	payload := VersionJobPayload{
		VersionID: version.ID,
		ProjectID: params.ProjectID,
	}
	conversionJobID, err := jobs.Submit(s.submitter, JobTypeConvertVersion, payload)
	if err != nil {
		return nil, fmt.Errorf("submit conversion job: %w", err)
	}
	propertiesJobID, err := jobs.Submit(s.submitter, JobTypeExtractProperties, payload)
	if err != nil {
		return nil, fmt.Errorf("submit properties job: %w", err)
	}

	s.log.Info("version created and jobs submitted",
		slog.String("document_id", params.DocumentID),
		slog.String("version_id", version.ID),
		slog.Int("version_number", number),
		slog.String("conversion_job_id", conversionJobID),
		slog.String("properties_job_id", propertiesJobID),
	)

	return &CreateVersionResult{
		Version:         version,
		ConversionJobID: conversionJobID,
		PropertiesJobID: propertiesJobID,
	}, nil
}

// RetryConversion re-submits the conversion job for a failed version
// under a fresh JobID. The handler's state guard accepts failed as a
// valid start state, so the fresh job drives failed -> processing.
func (s *Service) RetryConversion(ctx context.Context, versionID string) (*RetryResult, error) {
	version, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return &RetryResult{Success: false, Message: "Version not found"}, nil
	}
	if version.Status != StatusFailed {
		return &RetryResult{
			Success: false,
			Message: fmt.Sprintf("Version is %s, only failed versions can be retried", version.Status),
		}, nil
	}

	doc, err := s.repo.GetDocument(ctx, version.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return &RetryResult{Success: false, Message: "Parent document not found"}, nil
	}

	jobID, err := jobs.Submit(s.submitter, JobTypeConvertVersion, VersionJobPayload{
		VersionID: version.ID,
		ProjectID: doc.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("submit retry job: %w", err)
	}

	s.log.Info("conversion retry submitted",
		slog.String("version_id", versionID),
		slog.String("job_id", jobID),
	)
	return &RetryResult{Success: true, JobID: jobID, Message: "Conversion retry submitted"}, nil
}
