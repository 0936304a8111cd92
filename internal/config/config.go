package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Catalog server
	ServerURL      string
	RequestTimeout time.Duration

	// UI facade
	HTTPPort string

	// Capability registry
	CapabilityTTL time.Duration

	// Resource cache
	CacheMaxEntries int
	CacheMaxBytes   int64
	CacheTTL        time.Duration
	CacheSweep      time.Duration
	WarmConcurrency int

	// Job polling
	PollInterval      time.Duration
	PollErrorInterval time.Duration

	// Job history archive (sqlite). Empty disables archiving.
	ArchivePath string

	// Warm-start cache index (redis). Empty disables it.
	RedisURL string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Features
	EnableMetrics bool
}

// DefaultArchivePath places the job history under XDG_CACHE_HOME.
func DefaultArchivePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "grainery", "jobs.db")
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:         getEnv("SERVER_URL", "http://localhost:9400"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		HTTPPort:          getEnv("HTTP_PORT", "8420"),
		CapabilityTTL:     getEnvDuration("CAPABILITY_TTL", 60*time.Second),
		CacheMaxEntries:   getEnvInt("CACHE_MAX_ENTRIES", 256),
		CacheMaxBytes:     int64(getEnvInt("CACHE_MAX_BYTES", 512*1024*1024)),
		CacheTTL:          getEnvDuration("CACHE_TTL", 15*time.Minute),
		CacheSweep:        getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		WarmConcurrency:   getEnvInt("CACHE_WARM_CONCURRENCY", 4),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
		PollErrorInterval: getEnvDuration("POLL_ERROR_INTERVAL", 2*time.Second),
		ArchivePath:       getEnv("ARCHIVE_PATH", DefaultArchivePath()),
		RedisURL:          getEnv("REDIS_URL", ""),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		EnableMetrics:     getEnvBool("ENABLE_METRICS", true),
	}

	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
