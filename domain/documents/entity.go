package documents

import (
	"time"

	"github.com/uptrace/bun"
)

// VersionStatus is the lifecycle state of a document version's
// conversion pipeline.
type VersionStatus string

const (
	StatusPending    VersionStatus = "pending"
	StatusProcessing VersionStatus = "processing"
	StatusReady      VersionStatus = "ready"
	StatusFailed     VersionStatus = "failed"
)

// DerivationKind is the type of provenance edge between a source file
// and a file derived from it.
type DerivationKind string

const (
	DerivationConversion DerivationKind = "conversion"
	DerivationProperties DerivationKind = "properties"
)

// Document represents a document entity from the documents table
type Document struct {
	bun.BaseModel `bun:"table:documents"`

	ID        string  `bun:"id,pk" json:"id"`
	ProjectID string  `bun:"project_id" json:"projectId"`
	OrgID     *string `bun:"org_id" json:"orgId,omitempty"`
	Name      string  `bun:"name" json:"name"`

	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at" json:"updatedAt"`
}

// DocumentVersion is one uploaded revision of a document and the unit
// the conversion pipeline operates on. Status is owned by the
// conversion handler; the properties handler writes only
// PropertiesFileID and ErrorMessage.
type DocumentVersion struct {
	bun.BaseModel `bun:"table:document_versions"`

	ID            string `bun:"id,pk" json:"id"`
	DocumentID    string `bun:"document_id" json:"documentId"`
	VersionNumber int    `bun:"version_number" json:"versionNumber"`

	// File references
	SourceFileID     string  `bun:"source_file_id" json:"sourceFileId"`
	ConvertedFileID  *string `bun:"converted_file_id" json:"convertedFileId,omitempty"`
	PropertiesFileID *string `bun:"properties_file_id" json:"propertiesFileId,omitempty"`

	// Conversion state
	Status       VersionStatus `bun:"status" json:"status"`
	ErrorMessage *string       `bun:"error_message" json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time    `bun:"processed_at" json:"processedAt,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at" json:"updatedAt"`
}

// IsConverted reports whether the version already has a successful
// conversion result.
func (v *DocumentVersion) IsConverted() bool {
	return v.Status == StatusReady && v.ConvertedFileID != nil
}

// HasProperties reports whether the version already has an extracted
// properties artifact.
func (v *DocumentVersion) HasProperties() bool {
	return v.PropertiesFileID != nil
}

// File is a stored object, source or derived. Rows are append-only.
type File struct {
	bun.BaseModel `bun:"table:files"`

	ID              string    `bun:"id,pk" json:"id"`
	ProjectID       string    `bun:"project_id" json:"projectId"`
	StorageKey      string    `bun:"storage_key" json:"storageKey"`
	StorageProvider string    `bun:"storage_provider" json:"storageProvider"`
	Filename        string    `bun:"filename" json:"filename"`
	MimeType        string    `bun:"mime_type" json:"mimeType"`
	SizeBytes       int64     `bun:"size_bytes" json:"sizeBytes"`
	CreatedAt       time.Time `bun:"created_at" json:"createdAt"`
}

// FileDerivation is a typed provenance edge from a source file to a
// file derived from it. Rows are append-only.
type FileDerivation struct {
	bun.BaseModel `bun:"table:file_derivations"`

	ID            string         `bun:"id,pk" json:"id"`
	SourceFileID  string         `bun:"source_file_id" json:"sourceFileId"`
	DerivedFileID string         `bun:"derived_file_id" json:"derivedFileId"`
	Kind          DerivationKind `bun:"kind" json:"kind"`
	CreatedAt     time.Time      `bun:"created_at" json:"createdAt"`
}

// NewArtifact contains the fields of a derived file persisted alongside
// its lineage edge when a pipeline completes.
type NewArtifact struct {
	ProjectID    string
	StorageKey   string
	Provider     string
	Filename     string
	MimeType     string
	SizeBytes    int64
	SourceFileID string
	Kind         DerivationKind
}

// CreateVersionParams contains parameters for creating a version and
// submitting its processing jobs.
type CreateVersionParams struct {
	DocumentID string
	ProjectID  string
	SourceFile struct {
		StorageKey string
		Provider   string
		Filename   string
		MimeType   string
		SizeBytes  int64
	}
}

// CreateVersionResult reports the created version and its submitted jobs.
type CreateVersionResult struct {
	Version         *DocumentVersion `json:"version"`
	ConversionJobID string           `json:"conversionJobId"`
	PropertiesJobID string           `json:"propertiesJobId"`
}

// RetryResult reports an operator-triggered re-enqueue.
type RetryResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message"`
}
