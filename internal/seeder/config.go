// Package seeder generates attempt batches, posts them to a running
// service and verifies the resulting leaderboards.
package seeder

import (
	"errors"
	"time"
)

// ErrVerification is returned when a leaderboard breaks an ordering rule.
var ErrVerification = errors.New("leaderboard verification failed")

// Defaults for Config.
const (
	DefaultBaseURL      = "http://localhost:9080"
	DefaultStudents     = 200
	DefaultTests        = 3
	DefaultQuestions    = 20
	DefaultResubmitRate = 0.15
	DefaultBatchSize    = 50
	DefaultWorkers      = 4
	DefaultTimeout      = 30 * time.Second
	DefaultPageSize     = 100
)

// Config holds configuration for a seeding run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Students     int           // Number of distinct students
	Tests        int           // Number of tests
	Questions    int           // Questions per test
	ResubmitRate float64       // Share of attempts resubmitted within the duplicate window
	BatchSize    int           // Events per ingest request
	Workers      int           // Concurrent submitters
	Timeout      time.Duration // HTTP request timeout
	Seed         uint64        // Generator seed; runs with the same seed produce the same events
	OutputFile   string        // Optional file receiving the generated events
	Verbose      bool          // Log every batch
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Students <= 0 {
		c.Students = DefaultStudents
	}
	if c.Tests <= 0 {
		c.Tests = DefaultTests
	}
	if c.Questions <= 0 {
		c.Questions = DefaultQuestions
	}
	if c.ResubmitRate < 0 || c.ResubmitRate > 1 {
		c.ResubmitRate = DefaultResubmitRate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated     int
	ResubmissionsPlaced int
	BatchesSubmitted    int
	BatchesFailed       int
	Scored              int
	Deduped             int
	Ingested            int
	Skipped             int
	Failed              int
	LeaderboardsChecked int
	LeaderboardEntries  int
	StartTime           time.Time
	Duration            time.Duration
}
