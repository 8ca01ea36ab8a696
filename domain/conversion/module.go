package conversion

import (
	"go.uber.org/fx"

	"github.com/meridian-dms/meridian-core/domain/documents"
	"github.com/meridian-dms/meridian-core/internal/jobs"
	"github.com/meridian-dms/meridian-core/internal/storage"
	"github.com/meridian-dms/meridian-core/pkg/convertd"
)

var Module = fx.Module("conversion",
	fx.Provide(
		func(r *documents.Repository) VersionStore { return r },
		func(s *storage.Service) ObjectStore { return s },
		func(c *convertd.Client) Engine { return c },
		NewConvertVersionHandler,
		NewExtractPropertiesHandler,
		NewRegistry,
	),
)

// NewRegistry builds the sealed job-type registry for the version
// processing pipelines. Registration happens once here; the worker
// only resolves from it afterwards.
func NewRegistry(convert *ConvertVersionHandler, properties *ExtractPropertiesHandler) (*jobs.Registry, error) {
	return jobs.NewRegistry(
		jobs.Register[documents.VersionJobPayload](documents.JobTypeConvertVersion, convert),
		jobs.Register[documents.VersionJobPayload](documents.JobTypeExtractProperties, properties),
	)
}
