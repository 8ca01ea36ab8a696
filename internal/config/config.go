package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Convertd conversion engine configuration
	Convertd ConvertdConfig

	// Job processing configuration
	Jobs JobsConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"meridian"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"meridian"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds storage (MinIO/S3) configuration
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"STORAGE_ENDPOINT" envDefault:""`
	// AccessKey is the access key ID
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	// SecretKey is the secret access key
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	// Bucket is the bucket holding document source files and derived artifacts
	Bucket string `env:"STORAGE_BUCKET" envDefault:"documents"`
	// Provider identifies the storage backend stamped onto artifact rows
	Provider string `env:"STORAGE_PROVIDER" envDefault:"s3"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// ConvertdConfig holds configuration for the convertd conversion engine service
type ConvertdConfig struct {
	// Enabled determines if the conversion engine is reachable
	Enabled bool `env:"CONVERTD_ENABLED" envDefault:"true"`
	// ServiceURL is the convertd service URL
	ServiceURL string `env:"CONVERTD_SERVICE_URL" envDefault:"http://localhost:8700"`
	// TimeoutMs is the request timeout in milliseconds (default: 600000 = 10 minutes;
	// conversions of large source files are slow)
	TimeoutMs int `env:"CONVERTD_SERVICE_TIMEOUT" envDefault:"600000"`
	// MaxFileSizeMB is the maximum source file size accepted for conversion
	MaxFileSizeMB int `env:"CONVERTD_MAX_FILE_SIZE_MB" envDefault:"500"`
}

// Timeout returns the request timeout as a Duration
func (c *ConvertdConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// JobsConfig holds configuration for the job-processing runtime
type JobsConfig struct {
	// Concurrency is the number of independent worker loops sharing the queue
	Concurrency int `env:"JOBS_CONCURRENCY" envDefault:"1"`
	// DispatchBackoffMs is how long a loop backs off after a plumbing
	// failure before dequeuing again
	DispatchBackoffMs int `env:"JOBS_DISPATCH_BACKOFF_MS" envDefault:"1000"`
	// LedgerTTLHours is how long processed-job ledger entries are kept
	// before being swept
	LedgerTTLHours int `env:"JOBS_LEDGER_TTL_HOURS" envDefault:"24"`
	// UsePostgresLedger selects the database-backed idempotency ledger
	// instead of the in-memory one
	UsePostgresLedger bool `env:"JOBS_USE_POSTGRES_LEDGER" envDefault:"false"`
	// StaleRecoveryMinutes is the age after which a ledger row stuck in
	// the processing state is considered abandoned and re-armed at startup
	StaleRecoveryMinutes int `env:"JOBS_STALE_RECOVERY_MINUTES" envDefault:"10"`
}

// DispatchBackoff returns the dispatch backoff as a Duration
func (j *JobsConfig) DispatchBackoff() time.Duration {
	return time.Duration(j.DispatchBackoffMs) * time.Millisecond
}

// StaleRecovery returns the stale-row recovery threshold as a Duration
func (j *JobsConfig) StaleRecovery() time.Duration {
	return time.Duration(j.StaleRecoveryMinutes) * time.Minute
}

// LedgerTTL returns the ledger entry TTL as a Duration
func (j *JobsConfig) LedgerTTL() time.Duration {
	return time.Duration(j.LedgerTTLHours) * time.Hour
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("db_host", cfg.Database.Host),
		slog.String("convertd_url", cfg.Convertd.ServiceURL),
		slog.Int("jobs_concurrency", cfg.Jobs.Concurrency),
	)

	return cfg, nil
}
