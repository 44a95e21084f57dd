// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for all databases (always absolute)
	ProfilePath string // Layer-target profile YAML; empty means built-in defaults
	LogLevel    string
	Port        int
	DevMode     bool
	Jobs        JobsConfig
	Archive     ArchiveConfig
}

// JobsConfig configures the background rebalancer job pool
type JobsConfig struct {
	MaxConcurrent int
	TTL           time.Duration
	SweepSchedule string // cron spec for the expired-job sweeper
}

// ArchiveConfig configures the S3-compatible run archive.
// An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether run archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LAYERWISE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		ProfilePath: getEnv("LAYERWISE_PROFILE_PATH", ""),
		Port:        getEnvAsInt("LAYERWISE_PORT", 8080),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Jobs: JobsConfig{
			MaxConcurrent: getEnvAsInt("JOB_MAX_CONCURRENT", 2),
			TTL:           getEnvAsDuration("JOB_TTL", 30*time.Minute),
			SweepSchedule: getEnv("JOB_SWEEP_SCHEDULE", "@every 1m"),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("RUN_ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("RUN_ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("RUN_ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("RUN_ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("RUN_ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive, got %s", c.Jobs.TTL)
	}
	if _, err := cron.ParseStandard(c.Jobs.SweepSchedule); err != nil {
		return fmt.Errorf("invalid JOB_SWEEP_SCHEDULE %q: %w", c.Jobs.SweepSchedule, err)
	}
	if c.Archive.Enabled() && (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		return fmt.Errorf("run archive credentials must set both access key id and secret")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
