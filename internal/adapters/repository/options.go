package repository

import (
	"time"

	gormLogger "gorm.io/gorm/logger"
)

// Option applies a configuration option to Open.
type Option func(*openConfig)

type openConfig struct {
	logLevel              gormLogger.LogLevel
	slowThreshold         time.Duration
	maxOpenConns          int
	metricsUpdateInterval time.Duration
}

// WithLogLevel sets the gorm statement log level.
func WithLogLevel(level gormLogger.LogLevel) Option {
	return func(c *openConfig) {
		c.logLevel = level
	}
}

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(c *openConfig) {
		if d > 0 {
			c.slowThreshold = d
		}
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *openConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
// Zero disables the updater.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(c *openConfig) {
		if interval >= 0 {
			c.metricsUpdateInterval = interval
		}
	}
}
