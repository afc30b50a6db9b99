package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceName identifies the service in API replies and traces
const ServiceName = "yggsync"

// Version is set at build time with -ldflags "-X .../internal/config.Version=..."
var Version = "dev"

// Config holds all application configuration
type Config struct {
	// Database
	DBDriver string // "sqlite" or "postgres"
	DBDSN    string // SQLite file path or Postgres DSN

	// ygg API
	YggBaseURL   string
	APIDelay     time.Duration // Minimum delay between two API calls
	HTTPTimeout  time.Duration
	ItemsPerPage int

	// Categories (source classification codes)
	SeriesCategoryID int
	FilmCategoryID   int

	// Sync
	UpdateInterval    time.Duration
	DetailMaxAttempts int
	RetryDelay        time.Duration
	AutoBackfill      bool // Scheduler runs the backfill for categories that never completed one
	RunOnStart        bool

	// Server
	ServerPort string

	// Paths
	ConfigDir string

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Tracing
	OTLPEndpoint  string // host:port of an OTLP/HTTP collector
	OTLPInsecure  bool
	TracingStdout bool
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Setup viper FIRST to load .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	// Set defaults
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("YGG_API_BASE_URL", "https://yggapi.eu")
	viper.SetDefault("API_DELAY_SECONDS", 1)
	viper.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	viper.SetDefault("ITEMS_PER_PAGE", 100)
	viper.SetDefault("ANIME_SERIES_CATEGORY", 2179)
	viper.SetDefault("ANIME_FILM_CATEGORY", 2178)
	viper.SetDefault("UPDATE_INTERVAL_SECONDS", 3600)
	viper.SetDefault("DETAIL_MAX_ATTEMPTS", 3)
	viper.SetDefault("AUTO_BACKFILL", true)
	viper.SetDefault("RUN_ON_START", false)
	viper.SetDefault("SERVER_PORT", "8000")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	viper.SetDefault("TRACING_STDOUT", false)

	configDir, err := resolveConfigDir(viper.GetString("CONFIG_DIR"))
	if err != nil {
		return nil, err
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	apiDelay := seconds(viper.GetFloat64("API_DELAY_SECONDS"))
	retryDelay := apiDelay
	if viper.IsSet("RETRY_DELAY_SECONDS") {
		retryDelay = seconds(viper.GetFloat64("RETRY_DELAY_SECONDS"))
	}

	config := &Config{
		// Database
		DBDriver: strings.ToLower(viper.GetString("DB_DRIVER")),
		DBDSN:    viper.GetString("DB_DSN"),

		// ygg API
		YggBaseURL:   viper.GetString("YGG_API_BASE_URL"),
		APIDelay:     apiDelay,
		HTTPTimeout:  seconds(viper.GetFloat64("HTTP_TIMEOUT_SECONDS")),
		ItemsPerPage: viper.GetInt("ITEMS_PER_PAGE"),

		// Categories
		SeriesCategoryID: viper.GetInt("ANIME_SERIES_CATEGORY"),
		FilmCategoryID:   viper.GetInt("ANIME_FILM_CATEGORY"),

		// Sync
		UpdateInterval:    seconds(viper.GetFloat64("UPDATE_INTERVAL_SECONDS")),
		DetailMaxAttempts: viper.GetInt("DETAIL_MAX_ATTEMPTS"),
		RetryDelay:        retryDelay,
		AutoBackfill:      viper.GetBool("AUTO_BACKFILL"),
		RunOnStart:        viper.GetBool("RUN_ON_START"),

		// Server
		ServerPort: viper.GetString("SERVER_PORT"),

		// Paths
		ConfigDir: configDir,

		// Logging
		LogLevel:  viper.GetString("LOG_LEVEL"),
		LogFormat: strings.ToLower(viper.GetString("LOG_FORMAT")),

		// Tracing
		OTLPEndpoint:  viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:  viper.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		TracingStdout: viper.GetBool("TRACING_STDOUT"),
	}

	if config.DBDSN == "" && config.DBDriver == "sqlite" {
		config.DBDSN = filepath.Join(configDir, "yggsync.db")
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func resolveConfigDir(configDir string) (string, error) {
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", "yggsync"), nil
	}

	// Convert relative path to absolute path
	absPath, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
	}
	return absPath, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// validate checks required fields and value ranges
func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required for driver %s", c.DBDriver)
	}
	if c.YggBaseURL == "" {
		return fmt.Errorf("YGG_API_BASE_URL is required")
	}
	if c.APIDelay < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("API_DELAY_SECONDS and RETRY_DELAY_SECONDS must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.ItemsPerPage <= 0 {
		return fmt.Errorf("ITEMS_PER_PAGE must be positive")
	}
	if c.SeriesCategoryID <= 0 || c.FilmCategoryID <= 0 {
		return fmt.Errorf("ANIME_SERIES_CATEGORY and ANIME_FILM_CATEGORY must be positive")
	}
	if c.SeriesCategoryID == c.FilmCategoryID {
		return fmt.Errorf("ANIME_SERIES_CATEGORY and ANIME_FILM_CATEGORY must differ")
	}
	if c.UpdateInterval < time.Minute {
		return fmt.Errorf("UPDATE_INTERVAL_SECONDS must be at least 60")
	}
	if c.DetailMaxAttempts < 1 {
		return fmt.Errorf("DETAIL_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
