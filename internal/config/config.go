// Package config provides configuration loading for the migration service.
package config

import (
	"os"
	"strconv"
)

// Config holds the migration server configuration.
type Config struct {
	// Server settings
	Port int
	Host string

	// Console org (configuration source)
	ConsoleURL        string
	ConsoleToken      string
	ConsoleNamespace  string
	ConsoleAPIVersion string

	// Source / target orgs
	SourceURL   string
	SourceToken string
	TargetURL   string
	TargetToken string

	// Outgoing request pacing
	OrgRatePerSec  float64
	OrgRetryMax    int
	LoadRatePerSec float64

	// Run store (Postgres)
	RunStoreDSN string

	// Staging store (Postgres)
	StagingDSN string

	// Report archive (S3-compatible); falls back to local dir when unset
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool
	ArchiveLocalDir  string

	// Scheduler
	CronSpec       string
	CronScheduleID string
}

// Load reads configuration from environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:              getEnvInt("MIGRATA_PORT", 8080),
		Host:              getEnv("MIGRATA_HOST", "0.0.0.0"),
		ConsoleURL:        getEnv("MIGRATA_CONSOLE_URL", ""),
		ConsoleToken:      getEnv("MIGRATA_CONSOLE_TOKEN", ""),
		ConsoleNamespace:  getEnv("MIGRATA_CONSOLE_NAMESPACE", ""),
		ConsoleAPIVersion: getEnv("MIGRATA_CONSOLE_API_VERSION", ""),
		SourceURL:         getEnv("MIGRATA_SOURCE_URL", ""),
		SourceToken:       getEnv("MIGRATA_SOURCE_TOKEN", ""),
		TargetURL:         getEnv("MIGRATA_TARGET_URL", ""),
		TargetToken:       getEnv("MIGRATA_TARGET_TOKEN", ""),
		OrgRatePerSec:     getEnvFloat("MIGRATA_ORG_RATE_PER_SEC", 10),
		OrgRetryMax:       getEnvInt("MIGRATA_ORG_RETRY_MAX", 3),
		LoadRatePerSec:    getEnvFloat("MIGRATA_LOAD_RATE_PER_SEC", 2),
		RunStoreDSN:       getEnv("MIGRATA_RUNSTORE_DSN", ""),
		StagingDSN:        getEnv("MIGRATA_STAGING_DSN", ""),
		ArchiveEndpoint:   getEnv("MIGRATA_ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey:  getEnv("MIGRATA_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey:  getEnv("MIGRATA_ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:     getEnv("MIGRATA_ARCHIVE_BUCKET", "migration-reports"),
		ArchiveUseSSL:     getEnvBool("MIGRATA_ARCHIVE_USE_SSL", false),
		ArchiveLocalDir:   getEnv("MIGRATA_ARCHIVE_LOCAL_DIR", ""),
		CronSpec:          getEnv("MIGRATA_CRON_SPEC", ""),
		CronScheduleID:    getEnv("MIGRATA_CRON_SCHEDULE_ID", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
