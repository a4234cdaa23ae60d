// Package config provides configuration management for the AGP backend.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the AGP backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Settings SettingsConfig `mapstructure:"settings"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Data     DataConfig     `mapstructure:"data"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database configuration. The default driver is the
// embedded sqlite store; set driver=pgx and dsn for PostgreSQL.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or pgx
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SettingsConfig locates the persisted settings store file.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// CatalogConfig locates the tool catalog file. An empty path selects the
// built-in catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// DataConfig holds the application data directory.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGP_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// DefaultDataDir returns the AGP data directory (~/.agp), falling back to a
// relative .agp directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agp"
	}
	return filepath.Join(home, ".agp")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - embedded sqlite under the data dir
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", filepath.Join(dataDir, "agp.db"))
	v.SetDefault("database.dsn", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agp-backend")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Settings store defaults
	v.SetDefault("settings.path", filepath.Join(dataDir, "settings.json"))

	// Catalog defaults - empty means built-in catalog
	v.SetDefault("catalog.path", "")

	// Data dir
	v.SetDefault("data.dir", dataDir)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGP_ with underscore naming.
// Config file should be named config.yaml and placed in the current directory
// or under ~/.agp/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where the config key is camelCase and AutomaticEnv
	// cannot derive the env var name.
	_ = v.BindEnv("database.driver", "AGP_DATABASE_DRIVER")
	_ = v.BindEnv("nats.maxReconnects", "AGP_NATS_MAX_RECONNECTS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(DefaultDataDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite3":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite3 driver")
		}
	case "pgx":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the pgx driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite3, pgx")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Settings.Path == "" {
		errs = append(errs, "settings.path must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
