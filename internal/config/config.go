// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Export   ExportConfig
	Queue    QueueConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	// Driver selects the store: memory, postgres, sqlite or mysql (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string, required for every driver but memory.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate creates missing entity tables on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds CSV import processing settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// Retention is how long finished runs stay queryable (default: 5m)
	Retention time.Duration `env:"IMPORT_RESULT_RETENTION" default:"5m"`

	// ThrottleEvery pauses after this many rows; 0 disables (default: 0)
	ThrottleEvery int `env:"IMPORT_THROTTLE_EVERY" default:"0"`

	// ThrottleDelay is the pause length (default: 100ms)
	ThrottleDelay time.Duration `env:"IMPORT_THROTTLE_DELAY" default:"100ms"`

	// DefaultActor is stamped on writes from unauthenticated callers (default: system)
	DefaultActor string `env:"IMPORT_DEFAULT_ACTOR" default:"system"`

	// EntityConfigFile replaces the built-in entity table when set
	EntityConfigFile string `env:"ENTITY_CONFIG_FILE"`
}

// ExportConfig holds export archive settings. Archiving is off unless an
// endpoint and bucket are set.
type ExportConfig struct {
	// Endpoint is the S3-compatible host:port, e.g. minio:9000
	Endpoint string `env:"EXPORT_S3_ENDPOINT"`

	// AccessKey for the object store
	AccessKey string `env:"EXPORT_S3_ACCESS_KEY"`

	// SecretKey for the object store
	SecretKey string `env:"EXPORT_S3_SECRET_KEY"`

	// Bucket receives archived exports (default: crm-exports)
	Bucket string `env:"EXPORT_S3_BUCKET" default:"crm-exports"`

	// Prefix is prepended to object keys (default: exports/)
	Prefix string `env:"EXPORT_S3_PREFIX" default:"exports/"`

	// UseSSL connects over TLS (default: false)
	UseSSL bool `env:"EXPORT_S3_USE_SSL" default:"false"`

	// LinkExpiry is how long presigned download links stay valid (default: 24h)
	LinkExpiry time.Duration `env:"EXPORT_LINK_EXPIRY" default:"24h"`
}

// QueueConfig holds RabbitMQ settings. The consumer only starts when URL is set.
type QueueConfig struct {
	// URL is the AMQP connection string
	URL string `env:"QUEUE_URL" envAlt:"RABBITMQ_URL"`

	// ImportQueue receives import jobs (default: crm_import)
	ImportQueue string `env:"QUEUE_IMPORT_NAME" default:"crm_import"`

	// ResultQueue receives job results; empty disables publishing (default: crm_import_result)
	ResultQueue string `env:"QUEUE_RESULT_NAME" default:"crm_import_result"`

	// Prefetch is the number of unacked jobs per worker (default: 1)
	Prefetch int `env:"QUEUE_PREFETCH" default:"1"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of name:key pairs; name becomes the actor
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Enabled reports whether the export archive is configured.
func (c *ExportConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Enabled reports whether a broker is configured.
func (c *QueueConfig) Enabled() bool {
	return c.URL != ""
}
