// Package config provides centralized configuration management for the
// route migration service. Settings come from environment variables (and
// optionally a YAML file) and are validated on startup to fail fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Store    StoreConfig     `yaml:"store"`
	Database DatabaseConfig  `yaml:"database"`
	Upload   UploadConfig    `yaml:"upload"`
	Export   ExportConfig    `yaml:"export"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port int    `yaml:"port" env:"SERVER_PORT" env-default:"8080"`

	ReadTimeout time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`

	// WriteTimeout bounds the whole response, including export downloads.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"5m"`

	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`

	// RequestTimeout is applied by middleware to every request.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" env-default:"2m"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory store loses all data on
	// restart and is meant for demos.
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"postgres"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the connection string. Both DATABASE_URL and DB_URL are read.
	URL string `yaml:"-" env:"DATABASE_URL,DB_URL"`

	MaxConns        int           `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"20"`
	MinConns        int           `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" env-default:"30m"`

	// MigrateOnStart applies embedded schema migrations before serving.
	MigrateOnStart bool `yaml:"migrate_on_start" env:"DB_MIGRATE_ON_START" env-default:"true"`
}

// UploadConfig holds spreadsheet upload settings.
type UploadConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 10MiB).
	MaxFileSize int64 `yaml:"max_file_size" env:"UPLOAD_MAX_FILE_SIZE" env-default:"10485760"`

	// MaxConcurrent bounds parallel workbook parsing and rendering.
	MaxConcurrent int `yaml:"max_concurrent" env:"UPLOAD_MAX_CONCURRENT" env-default:"5"`

	// MaxWaitTime is how long a request waits for a free slot.
	MaxWaitTime time.Duration `yaml:"max_wait_time" env:"UPLOAD_MAX_WAIT_TIME" env-default:"30s"`
}

// ExportConfig holds xlsx export settings.
type ExportConfig struct {
	// TempDir stages export files; empty means the OS temp dir.
	TempDir string `yaml:"temp_dir" env:"EXPORT_TEMP_DIR"`

	// TimeZone formats exported timestamps (IANA name, default Asia/Shanghai).
	TimeZone string `yaml:"time_zone" env:"EXPORT_TIME_ZONE" env-default:"Asia/Shanghai"`
}

// Location resolves TimeZone.
func (c *ExportConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	RequestsPerMinute int  `yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" env-default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies lists proxy CIDRs whose X-Real-IP / X-Forwarded-For
	// headers are honoured.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`

	// Format is text or json.
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"METRICS_PATH" env-default:"/metrics"`
}
