// Package config provides centralized configuration for the server and
// the CLI. Settings come from environment variables or an optional
// bulkcsv.{yaml,toml,json} file, fall back to the tag defaults, and are
// validated on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Export   ExportConfig
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

	// ReadTimeout is the maximum duration for reading a request (default: 0, imports stream their body)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"0s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0 for SSE and exports)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds requests that are not imports or exports (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending schema migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds CSV import defaults and limits. Request headers
// override the format options per job.
type ImportConfig struct {
	// Separator is the default field separator (default: ;)
	Separator string `env:"IMPORT_SEPARATOR" default:";"`

	// Quote is the default quote character (default: ")
	Quote string `env:"IMPORT_QUOTE" default:"\""`

	// PeriodicCommit commits in chunks unless a request says otherwise (default: false)
	PeriodicCommit bool `env:"IMPORT_PERIODIC_COMMIT" default:"false"`

	// CommitInterval is the number of rows per chunk (default: 1000)
	CommitInterval int `env:"IMPORT_COMMIT_INTERVAL" default:"1000"`

	// StreamChunks reads chunks incrementally instead of counting them first (default: false)
	StreamChunks bool `env:"IMPORT_STREAM_CHUNKS" default:"false"`

	// MaxFileSize is the maximum accepted request body in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// ResultRetention is how long finished async jobs stay queryable (default: 5m)
	ResultRetention time.Duration `env:"IMPORT_RESULT_RETENTION" default:"5m"`

	// MaxConflictRetries bounds retries of one chunk, 0 retries until it commits (default: 0)
	MaxConflictRetries int `env:"IMPORT_MAX_CONFLICT_RETRIES" default:"0"`

	// RetryDelay is the base pause between conflicting attempts (default: 25ms)
	RetryDelay time.Duration `env:"IMPORT_RETRY_DELAY" default:"25ms"`
}

// ExportConfig holds CSV export defaults. Query parameters override them.
type ExportConfig struct {
	// Separator is the field separator (default: ;)
	Separator string `env:"EXPORT_SEPARATOR" default:";"`

	// View is the view exported when none is requested (default: public)
	View string `env:"EXPORT_VIEW" default:"public"`

	// StripLineBreaks removes line breaks from values (default: false)
	StripLineBreaks bool `env:"EXPORT_STRIP_LINE_BREAKS" default:"false"`

	// WriteBOM writes a UTF-8 byte-order mark first (default: false)
	WriteBOM bool `env:"EXPORT_WRITE_BOM" default:"false"`
}

// RateLimitConfig holds rate limiting settings per client.
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
	// RequireAPIKey rejects requests without a valid X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of name:key pairs, or bare keys.
	// The name is recorded as the acting user of imports.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of CIDRs whose X-Real-IP and
	// X-Forwarded-For headers are believed. Empty trusts no proxy.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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

// SeparatorRune returns the import separator as a rune.
func (c *ImportConfig) SeparatorRune() rune {
	return firstRune(c.Separator)
}

// QuoteRune returns the import quote character as a rune.
func (c *ImportConfig) QuoteRune() rune {
	return firstRune(c.Quote)
}

// SeparatorRune returns the export separator as a rune.
func (c *ExportConfig) SeparatorRune() rune {
	return firstRune(c.Separator)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
