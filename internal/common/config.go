package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	API         APIConfig     `toml:"api"`
	Push        PushConfig    `toml:"push"`
	View        ViewConfig    `toml:"view"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Refresh     RefreshConfig `toml:"refresh"`
}

// APIConfig points at the jobs backend REST endpoint
type APIConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	Timeout   string `toml:"timeout"`    // e.g., "30s" - HTTP request timeout
	RateLimit int    `toml:"rate_limit"` // Requests per second against the backend
}

// PushConfig points at the live update WebSocket endpoint
type PushConfig struct {
	URL               string `toml:"url"`                // Empty disables live updates
	HeartbeatInterval string `toml:"heartbeat_interval"` // e.g., "30s"
	PongTimeout       string `toml:"pong_timeout"`       // e.g., "65s"
}

// ViewConfig controls the result window
type ViewConfig struct {
	PageSize  int    `toml:"page_size" validate:"omitempty,min=1,max=50"`
	Freshness string `toml:"freshness"` // Cached page freshness window, e.g., "30s"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// RefreshConfig controls the background refresh scheduler
type RefreshConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		API: APIConfig{
			BaseURL:   "http://localhost:8085/api",
			Timeout:   "30s",
			RateLimit: 10,
		},
		Push: PushConfig{
			URL:               "ws://localhost:8085/ws",
			HeartbeatInterval: "30s",
			PongTimeout:       "65s",
		},
		View: ViewConfig{
			PageSize:  20,
			Freshness: "30s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/joblens",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Refresh: RefreshConfig{
			Enabled:  false,
			Schedule: "*/5 * * * *",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its declared constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBLENS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if baseURL := os.Getenv("JOBLENS_API_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if timeout := os.Getenv("JOBLENS_API_TIMEOUT"); timeout != "" {
		config.API.Timeout = timeout
	}
	if rateLimit := os.Getenv("JOBLENS_API_RATE_LIMIT"); rateLimit != "" {
		if n, err := strconv.Atoi(rateLimit); err == nil {
			config.API.RateLimit = n
		}
	}

	if wsURL := os.Getenv("JOBLENS_WS_URL"); wsURL != "" {
		config.Push.URL = wsURL
	}

	if pageSize := os.Getenv("JOBLENS_PAGE_SIZE"); pageSize != "" {
		if n, err := strconv.Atoi(pageSize); err == nil {
			config.View.PageSize = n
		}
	}

	if badgerPath := os.Getenv("JOBLENS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("JOBLENS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("JOBLENS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if schedule := os.Getenv("JOBLENS_REFRESH_SCHEDULE"); schedule != "" {
		config.Refresh.Schedule = schedule
		config.Refresh.Enabled = true
	}
}

// APITimeout returns the parsed backend request timeout.
func (c *Config) APITimeout(fallback time.Duration) time.Duration {
	return parseDuration(c.API.Timeout, fallback)
}

// HeartbeatInterval returns the parsed WebSocket heartbeat interval.
func (c *Config) HeartbeatInterval(fallback time.Duration) time.Duration {
	return parseDuration(c.Push.HeartbeatInterval, fallback)
}

// PongTimeout returns the parsed WebSocket pong timeout.
func (c *Config) PongTimeout(fallback time.Duration) time.Duration {
	return parseDuration(c.Push.PongTimeout, fallback)
}

// Freshness returns the parsed cached page freshness window.
func (c *Config) Freshness(fallback time.Duration) time.Duration {
	return parseDuration(c.View.Freshness, fallback)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
