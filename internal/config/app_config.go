// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the local HTTP server port. Defaults to 8991.
	Port int `envconfig:"PORT" default:"8991"`

	// DataDir is the root data directory. Defaults to ~/.boostd.
	DataDir string `envconfig:"BOOSTD_DATA_DIR"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// BackendURL is the ViralBoost API base URL.
	BackendURL string `envconfig:"BOOSTD_BACKEND_URL" default:"https://api.viralboost.io/api/v1"`

	// BackendToken authenticates backend requests. Required for real use;
	// empty means unauthenticated requests.
	BackendToken string `envconfig:"BOOSTD_BACKEND_TOKEN"`

	// BackendTimeout bounds each backend HTTP request.
	BackendTimeout time.Duration `envconfig:"BOOSTD_BACKEND_TIMEOUT" default:"15s"`

	// PushURL is the backend's websocket push endpoint.
	PushURL string `envconfig:"BOOSTD_PUSH_URL" default:"wss://api.viralboost.io/ws/push"`

	// WindowOrigin is the web app origin whose windows connect to this
	// daemon. Clicked notifications reuse windows from this origin.
	WindowOrigin string `envconfig:"BOOSTD_WINDOW_ORIGIN" default:"https://app.viralboost.io"`

	// CORSOrigins lists origins allowed to call the local API.
	CORSOrigins []string `envconfig:"BOOSTD_CORS_ORIGINS" default:"https://app.viralboost.io,http://localhost:5173"`

	// Cache tuning.
	CacheStaleTime    time.Duration `envconfig:"BOOSTD_CACHE_STALE_TIME" default:"30s"`
	CacheGCIdle       time.Duration `envconfig:"BOOSTD_CACHE_GC_IDLE" default:"5m"`
	CacheFetchTimeout time.Duration `envconfig:"BOOSTD_CACHE_FETCH_TIMEOUT" default:"15s"`
	CacheRetryCount   int           `envconfig:"BOOSTD_CACHE_RETRY_COUNT" default:"3"`

	// Debug makes cache consistency violations fatal instead of logged.
	Debug bool `envconfig:"BOOSTD_DEBUG" default:"false"`

	// SMTP settings for the missed-notification digest. Leaving Host empty
	// disables the digest entirely.
	SMTPHost       string `envconfig:"BOOSTD_SMTP_HOST"`
	SMTPPort       int    `envconfig:"BOOSTD_SMTP_PORT" default:"587"`
	SMTPUsername   string `envconfig:"BOOSTD_SMTP_USERNAME"`
	SMTPPassword   string `envconfig:"BOOSTD_SMTP_PASSWORD"`
	SMTPFrom       string `envconfig:"BOOSTD_SMTP_FROM"`
	SMTPTo         string `envconfig:"BOOSTD_SMTP_TO"`
	SMTPEncryption string `envconfig:"BOOSTD_SMTP_ENCRYPTION" default:"starttls"`

	// DigestInterval controls how often queued notifications are flushed
	// into a digest email.
	DigestInterval time.Duration `envconfig:"BOOSTD_DIGEST_INTERVAL" default:"15m"`
}

// Load reads AppConfig from environment variables using envconfig.
// DataDir defaults to ~/.boostd if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".boostd")
	}
	return &c, nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (~/.boostd/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DBPath returns the path to the SQLite database file.
func (c *AppConfig) DBPath() string {
	return filepath.Join(c.DataDir, "boostd.db")
}

// RoutesFile returns the path to the notification route overrides YAML file.
func (c *AppConfig) RoutesFile() string {
	return filepath.Join(c.DataDir, "routes.yaml")
}
