package documents

// Job types submitted for a document version. The conversion and
// properties pipelines register handlers under these names.
const (
	JobTypeConvertVersion    = "documents.version.convert"
	JobTypeExtractProperties = "documents.version.properties"
)

// VersionJobPayload is the envelope payload shared by the version
// processing jobs. Unknown fields are ignored on decode, so the payload
// can grow without breaking older workers.
type VersionJobPayload struct {
	VersionID string `json:"versionId"`
	ProjectID string `json:"projectId"`
}
