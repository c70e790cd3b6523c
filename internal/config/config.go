// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.cymbiose-kb/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (database password, Gemini API key) are only read from
// the environment and are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

const (
	// DefaultModelName is the default Gemini generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedding model.
	// text-embedding-004 outputs 768 dimensions, matching the
	// kb_chunks.embedding vector(768) column.
	DefaultEmbedderModel = "text-embedding-004"
)

// Config stores application configuration.
type Config struct {
	// AI configuration
	ModelName     string `mapstructure:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Scraper configuration
	Scraper ScraperConfig `mapstructure:"scraper"`
}

// ScraperConfig holds settings for the server-side page scraper.
type ScraperConfig struct {
	// TimeoutMs is the per-request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms"`
	// MaxBodyBytes caps the fetched response size (default: 10 MiB)
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".cymbiose-kb")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// File not found is fine, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("listen_addr", "127.0.0.1:8080")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "cymbiose")
	viper.SetDefault("postgres_password", "cymbiose_dev_password")
	viper.SetDefault("postgres_db_name", "cymbiose_kb")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("scraper.timeout_ms", 30000)
	viper.SetDefault("scraper.max_body_bytes", int64(10*1024*1024))
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are only ever read from the environment.
func bindEnvVariables() {
	_ = viper.BindEnv("postgres_password", "POSTGRES_PASSWORD")
	_ = viper.BindEnv("postgres_host", "POSTGRES_HOST")
	_ = viper.BindEnv("listen_addr", "KB_LISTEN_ADDR")
	_ = viper.BindEnv("model_name", "KB_MODEL_NAME")
	_ = viper.BindEnv("embedder_model", "KB_EMBEDDER_MODEL")
}

// Validate performs fail-fast validation of the loaded configuration.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	return nil
}

// ValidateServe checks requirements specific to serve mode.
// The Gemini API key is required for both embedding and generation.
func (c *Config) ValidateServe() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return ErrMissingAPIKey
	}
	return nil
}
