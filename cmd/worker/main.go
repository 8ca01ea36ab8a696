// Package main provides the entry point for the Meridian processing worker.
//
// The worker drains the processing queue: format conversion and
// properties extraction jobs submitted when document versions are
// created. It runs migrations on startup and shuts down gracefully,
// letting claimed jobs run to completion.
package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/meridian-dms/meridian-core/domain/conversion"
	"github.com/meridian-dms/meridian-core/domain/documents"
	"github.com/meridian-dms/meridian-core/domain/progress"
	"github.com/meridian-dms/meridian-core/internal/config"
	"github.com/meridian-dms/meridian-core/internal/database"
	"github.com/meridian-dms/meridian-core/internal/jobs"
	"github.com/meridian-dms/meridian-core/internal/migrate"
	"github.com/meridian-dms/meridian-core/internal/storage"
	"github.com/meridian-dms/meridian-core/pkg/convertd"
	"github.com/meridian-dms/meridian-core/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		storage.Module,
		migrate.Module,

		// External service clients
		convertd.Module,

		// Domain modules
		documents.Module,
		progress.Module,
		conversion.Module,

		// Job-processing runtime
		jobs.Module,

		fx.Invoke(runMigrations),
	).Run()
}

func runMigrations(lc fx.Lifecycle, migrator *migrate.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return migrator.Up(ctx)
		},
	})
}
