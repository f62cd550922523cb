// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and environment variables.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"strings"
	"time"
)

// Storage drivers understood by the repository package.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBDriver selects the record store backend: sqlite or postgres.
	DBDriver string `koanf:"db_driver"`

	// DBDSN is the driver-specific connection string.
	DBDSN string `koanf:"db_dsn"`

	// EventQueueSize bounds the number of ingestion batches waiting for the worker.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers. One worker keeps
	// every batch of the process strictly ordered.
	WorkerCount int `koanf:"worker_count"`

	// DedupeWindow is the maximum start-time gap for two attempts to be duplicates.
	DedupeWindow time.Duration `koanf:"dedupe_window"`

	// DedupeThreshold is the minimum answer similarity for two attempts to be duplicates.
	DedupeThreshold float64 `koanf:"dedupe_threshold"`

	// MaxPageSize caps page_size on list and leaderboard queries.
	MaxPageSize int `koanf:"max_page_size"`

	// RedisAddr enables the Redis leaderboard cache when set.
	RedisAddr string `koanf:"redis_addr"`

	// RedisDB selects the Redis logical database.
	RedisDB int `koanf:"redis_db"`

	// LeaderboardCacheTTL bounds how long a computed leaderboard is reused.
	LeaderboardCacheTTL time.Duration `koanf:"leaderboard_cache_ttl"`

	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `koanf:"cors_origins"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "json",
		Addr:                ":9080",
		DBDriver:            DriverSQLite,
		DBDSN:               "file:marksheet.db?_busy_timeout=5000",
		EventQueueSize:      1_000,
		WorkerCount:         1,
		DedupeWindow:        7 * time.Minute,
		DedupeThreshold:     0.92,
		MaxPageSize:         100,
		RedisAddr:           "",
		RedisDB:             0,
		LeaderboardCacheTTL: 30 * time.Second,
		CORSOrigins:         "http://localhost:3000",
	}
}

// AllowedOrigins splits CORSOrigins into trimmed, non-empty origins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
