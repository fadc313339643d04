package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Document store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the builder and the read API. Load
// checks what both binaries share; ValidateBuilder adds what only the
// builder reads.
type Config struct {
	// Relational source (populated externally from feed files)
	SourcePath string `yaml:"source_database"`

	// Document store
	DocStoreDriver      string `yaml:"docstore_driver" validate:"oneof=sqlite postgres"`
	DocStoreSQLitePath  string `yaml:"docstore_sqlite" validate:"required_if=DocStoreDriver sqlite"`
	DocStorePostgresURL string `yaml:"docstore_postgres_url" validate:"required_if=DocStoreDriver postgres"`

	// Municipality reference lookup
	MunicipalitiesURL string        `yaml:"municipalities_url" validate:"omitempty,url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" validate:"gt=0"`

	// Build scheduling
	RefreshHours     int `yaml:"refresh_hours" validate:"gte=0"`
	SummaryCacheSize int `yaml:"summary_cache_size" validate:"gt=0"`
	RunRetentionDays int `yaml:"run_retention_days" validate:"gte=1"`

	// Logging
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFile  string `yaml:"log_file"`

	// Read API
	Port        string   `yaml:"port" validate:"required,numeric"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads configuration in three layers: built-in defaults, the optional
// YAML file at path, then environment variables (.env files included).
func Load(path string) (*Config, error) {
	// Base .env first, then .env.local overrides it for local development
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateBuilder checks the settings a build needs and the read API does not
func (c *Config) ValidateBuilder() error {
	builder := struct {
		SourcePath        string `validate:"required"`
		MunicipalitiesURL string `validate:"required,url"`
	}{c.SourcePath, c.MunicipalitiesURL}

	if err := validator.New().Struct(builder); err != nil {
		return fmt.Errorf("invalid builder configuration: %w", err)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		SourcePath:         "data/gtfs.db",
		DocStoreDriver:     DriverSQLite,
		DocStoreSQLitePath: "data/documents.db",
		HTTPTimeout:        30 * time.Second,
		RefreshHours:       24,
		SummaryCacheSize:   1024,
		RunRetentionDays:   30,
		LogLevel:           "info",
		Port:               "8081",
		CORSOrigins:        []string{"*"},
	}
}

func applyEnv(cfg *Config) {
	cfg.SourcePath = getEnv("SOURCE_DATABASE", cfg.SourcePath)

	cfg.DocStoreDriver = getEnv("DOCSTORE_DRIVER", cfg.DocStoreDriver)
	cfg.DocStoreSQLitePath = getEnv("DOCSTORE_SQLITE", cfg.DocStoreSQLitePath)
	cfg.DocStorePostgresURL = getEnv("DOCSTORE_POSTGRES_URL", cfg.DocStorePostgresURL)

	cfg.MunicipalitiesURL = getEnv("MUNICIPALITIES_URL", cfg.MunicipalitiesURL)
	cfg.HTTPTimeout = time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", int(cfg.HTTPTimeout/time.Second))) * time.Second

	cfg.RefreshHours = getEnvInt("REFRESH_HOURS", cfg.RefreshHours)
	cfg.SummaryCacheSize = getEnvInt("SUMMARY_CACHE_SIZE", cfg.SummaryCacheSize)
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", cfg.RunRetentionDays)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Port = getEnv("PORT", cfg.Port)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
}

// RefreshInterval is the minimum age of the last successful build before
// an --if-stale run rebuilds.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshHours) * time.Hour
}

// RunRetention is how long finished build run records are kept.
func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.RunRetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
