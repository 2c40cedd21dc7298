// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	ENAPI    ENAPIConfig
	Backup   BackupConfig
	Download DownloadConfig
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ENAPIConfig holds the Engaging Networks account and export settings.
type ENAPIConfig struct {
	// PrivateToken authorizes exports. Required to download anything.
	PrivateToken string `env:"EN_PRIVATE_TOKEN"`

	// PublicToken is kept for completeness; exports do not use it.
	PublicToken string `env:"EN_PUBLIC_TOKEN"`

	// BaseURL is the export service endpoint.
	BaseURL string `env:"EN_BASE_URL" default:"https://www.e-activist.com/ea-dataservice/export.service"`

	// TimeZone is the zone EN interprets export dates in.
	TimeZone string `env:"EN_TIME_ZONE" default:"America/New_York"`

	// CSVDelimiter must match the account's export settings
	// (Data API -> Manage General Settings -> File Delimiter).
	CSVDelimiter string `env:"EN_CSV_DELIMITER" default:","`

	// Charset of the export (default: utf-8)
	Charset string `env:"EN_CHARSET" default:"utf-8"`

	// RequestTimeout bounds a whole download; 0 means no limit.
	RequestTimeout time.Duration `env:"EN_REQUEST_TIMEOUT" default:"0s"`

	// MaxLookbackDays rejects ranges starting earlier; 0 means no limit.
	MaxLookbackDays int `env:"EN_MAX_LOOKBACK_DAYS" default:"0"`
}

// BackupConfig holds raw export backup settings.
type BackupConfig struct {
	// Dir stores a copy of every download when set.
	Dir string `env:"BACKUP_DIR"`

	// FileName overrides the generated backup name.
	FileName string `env:"BACKUP_FILE_NAME"`

	// S3Bucket uploads backups to S3 instead of Dir when set.
	S3Bucket string `env:"BACKUP_S3_BUCKET"`

	// S3Prefix is the key prefix within the bucket.
	S3Prefix string `env:"BACKUP_S3_PREFIX"`

	// S3Region is the AWS region (uses default chain if empty).
	S3Region string `env:"BACKUP_S3_REGION"`

	// S3Endpoint is a custom endpoint for S3-compatible providers.
	S3Endpoint string `env:"BACKUP_S3_ENDPOINT"`

	// S3PathStyle forces path-style addressing (default: false)
	S3PathStyle bool `env:"BACKUP_S3_PATH_STYLE" default:"false"`
}

// DownloadConfig holds download pipeline settings.
type DownloadConfig struct {
	// MaxConcurrent is the maximum number of parallel downloads (default: 3)
	MaxConcurrent int `env:"DOWNLOAD_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long to wait for a download slot (default: 30s)
	MaxWaitTime time.Duration `env:"DOWNLOAD_MAX_WAIT_TIME" default:"30s"`

	// ChunkSize is the body read size in bytes (default: 32KiB)
	ChunkSize int `env:"DOWNLOAD_CHUNK_SIZE" default:"32768"`

	// RecordQueue is how many records may wait for a slow consumer (default: 256)
	RecordQueue int `env:"DOWNLOAD_RECORD_QUEUE" default:"256"`

	// BackupQueue is how many chunks may wait for a slow backup sink (default: 8)
	BackupQueue int `env:"DOWNLOAD_BACKUP_QUEUE" default:"8"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for streaming)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Storage is disabled when empty.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// CopyBatchSize is the number of records per COPY (default: 1000)
	CopyBatchSize int `env:"DB_COPY_BATCH_SIZE" default:"1000"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool { return c.URL != "" }

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists proxy CIDRs whose X-Real-IP and X-Forwarded-For
	// headers are believed. Empty trusts none.
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

// Delimiter returns the configured CSV delimiter as a rune.
// "tab" and `\t` are accepted for a tab.
func (c *ENAPIConfig) Delimiter() (rune, error) {
	return ParseDelimiter(c.CSVDelimiter)
}

// MaxLookback returns MaxLookbackDays as a duration.
func (c *ENAPIConfig) MaxLookback() time.Duration {
	return time.Duration(c.MaxLookbackDays) * 24 * time.Hour
}

// ParseDelimiter converts a delimiter setting into a rune.
// An empty value means comma.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, fmt.Errorf("invalid CSV delimiter %q: must be a single character other than quote or newline", s)
	}
	return r, nil
}
