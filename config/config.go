// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds everything main needs to wire the API.
type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	MongoURI       string        `env:"MONGODB_URI,required"`
	MongoDB        string        `env:"MONGODB_DB" envDefault:"kombuciao"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Shared secret for protected routes. APIKeyHash is a bcrypt hash and
	// takes precedence when both are set.
	APIKey     string `env:"API_KEY"`
	APIKeyHash string `env:"API_KEY_HASH"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// AvailabilityWindow bounds which reports count towards availability.
	// Zero means every report ever submitted counts.
	AvailabilityWindow time.Duration `env:"AVAILABILITY_WINDOW" envDefault:"0s"`

	Log LogConfig

	GoogleCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ImportSource      string `env:"IMPORT_SOURCE"`
	ImportSchedule    string `env:"IMPORT_SCHEDULE"`
}

// LogConfig is consumed by the logger package.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"text"`
	Output     string `env:"LOG_OUTPUT" envDefault:"stdout"`
	File       string `env:"LOG_FILE" envDefault:"./logs/api.log"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7"`
	MaxAgeDays int    `env:"LOG_MAX_AGE" envDefault:"7"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

// Load reads an optional .env file (or the given files) and parses the
// environment into a Config.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.APIKey == "" && c.APIKeyHash == "" {
		return errors.New("one of API_KEY or API_KEY_HASH must be set")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.AvailabilityWindow < 0 {
		return errors.New("AVAILABILITY_WINDOW must not be negative")
	}
	if c.ImportSchedule != "" && c.ImportSource == "" {
		return errors.New("IMPORT_SCHEDULE requires IMPORT_SOURCE")
	}
	return nil
}

// ImportConfig is the subset the banco-import command needs. It does not
// require an API key.
type ImportConfig struct {
	MongoURI          string `env:"MONGODB_URI,required"`
	MongoDB           string `env:"MONGODB_DB" envDefault:"kombuciao"`
	GoogleCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ImportSource      string `env:"IMPORT_SOURCE"`

	Log LogConfig
}

func LoadImport(files ...string) (ImportConfig, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ImportConfig{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg ImportConfig
	if err := env.Parse(&cfg); err != nil {
		return ImportConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}
