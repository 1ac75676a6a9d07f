// Package config provides configuration loading for the loader services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoaderConfig holds process-level settings read from the environment.
type LoaderConfig struct {
	// Storage service
	StorageAPIURL       string
	StorageAPIToken     string
	StorageAPIRateLimit float64
	StorageAPITimeout   time.Duration
	JobPollInterval     time.Duration
	JobPollMaxInterval  time.Duration

	// Persistence and workspace
	StateDatabaseURL     string
	WorkspaceDatabaseURL string
	WorkspaceBackend     string

	// Staging
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	StagingRoot    string
	StagingPrefix  string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TaskQueue         string

	// Runtime
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	WaitConcurrency int
}

// LoadLoaderConfig loads configuration from environment.
func LoadLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		StorageAPIURL:       getEnv("STORAGE_API_URL", "http://localhost:8700"),
		StorageAPIToken:     getEnv("STORAGE_API_TOKEN", ""),
		StorageAPIRateLimit: getEnvFloat("STORAGE_API_RATE_LIMIT", 10),
		StorageAPITimeout:   getEnvDuration("STORAGE_API_TIMEOUT", 60*time.Second),
		JobPollInterval:     getEnvDuration("JOB_POLL_INTERVAL", time.Second),
		JobPollMaxInterval:  getEnvDuration("JOB_POLL_MAX_INTERVAL", 15*time.Second),

		StateDatabaseURL:     getEnv("STATE_DATABASE_URL", ""),
		WorkspaceDatabaseURL: getEnv("WORKSPACE_DATABASE_URL", ""),
		WorkspaceBackend:     getEnv("WORKSPACE_BACKEND", "postgres"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "ucl-loader-staging"),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		StagingRoot:    getEnv("STAGING_ROOT", ""),
		StagingPrefix:  getEnv("STAGING_PREFIX", "staging"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "127.0.0.1:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TaskQueue:         getEnv("LOADER_TASK_QUEUE", "ucl-loader"),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9464"),
		WaitConcurrency: getEnvInt("WAIT_CONCURRENCY", 1),
	}
}

// UseMinio reports whether blob staging is configured.
func (c *LoaderConfig) UseMinio() bool {
	return c.MinioEndpoint != ""
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
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
