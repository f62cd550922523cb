package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run executes a complete seeding run: health check, generation,
// concurrent submission and leaderboard verification.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	cfg = cfg.withDefaults()
	log := logger.Get().Named("seeder")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting seeding run",
		logger.String("base_url", cfg.BaseURL),
		logger.Int("students", cfg.Students),
		logger.Int("tests", cfg.Tests),
		logger.Int("workers", cfg.Workers),
		logger.Int("batch_size", cfg.BatchSize),
	)

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	events, resubmits := NewGenerator(cfg).Generate()
	stats.EventsGenerated = len(events)
	stats.ResubmissionsPlaced = resubmits
	log.Info(ctx, "generated events", logger.Int("count", len(events)), logger.Int("resubmissions", resubmits))

	if cfg.OutputFile != "" {
		if err := saveEvents(cfg.OutputFile, events); err != nil {
			log.Warn(ctx, "failed to save events to file", logger.Error(err))
		}
	}

	submit(ctx, cfg, client, events, stats, log)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("submission interrupted: %w", err)
	}
	if stats.Deduped != resubmits {
		log.Warn(ctx, "deduplicated count differs from resubmissions placed",
			logger.Int("deduped", stats.Deduped),
			logger.Int("resubmissions", resubmits),
		)
	}

	tests, err := client.Tests(ctx)
	if err != nil {
		return stats, fmt.Errorf("list tests: %w", err)
	}
	var errs []error
	for _, t := range tests {
		rows, err := client.Leaderboard(ctx, t.ID, DefaultPageSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("leaderboard %s: %w", t.Name, err))
			continue
		}
		stats.LeaderboardsChecked++
		stats.LeaderboardEntries += len(rows)
		if err := VerifyLeaderboard(rows); err != nil {
			errs = append(errs, fmt.Errorf("leaderboard %s: %w", t.Name, err))
			continue
		}
		if len(rows) > 0 {
			log.Info(ctx, "leaderboard verified",
				logger.String("test", t.Name),
				logger.Int("entries", len(rows)),
				logger.String("leader", rows[0].StudentName),
				logger.Float64("top_score", rows[0].Score),
			)
		}
	}

	stats.Duration = time.Since(stats.StartTime)
	logStats(ctx, log, stats)
	return stats, errors.Join(errs...)
}

// submit posts batches through a pool of cfg.Workers goroutines.
func submit(ctx context.Context, cfg Config, client *Client, events []model.AttemptEvent, stats *Stats, log logger.Logger) {
	batches := make(chan []model.AttemptEvent, cfg.Workers*2)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				res, err := client.Ingest(ctx, batch)

				mu.Lock()
				if err != nil {
					stats.BatchesFailed++
				} else {
					stats.BatchesSubmitted++
					stats.Scored += res.Scored
					stats.Deduped += res.Deduped
					stats.Ingested += res.Ingested
					stats.Skipped += res.Skipped
					stats.Failed += res.Failed
				}
				mu.Unlock()

				if err != nil {
					log.Warn(ctx, "batch failed", logger.Int("size", len(batch)), logger.Error(err))
				} else if cfg.Verbose {
					log.Info(ctx, "batch submitted",
						logger.Int("size", len(batch)),
						logger.Int("scored", res.Scored),
						logger.Int("deduped", res.Deduped),
					)
				}
			}
		}()
	}

	func() {
		defer close(batches)
		for start := 0; start < len(events); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(events))
			select {
			case <-ctx.Done():
				return
			case batches <- events[start:end]:
			}
		}
	}()
	wg.Wait()
}

// saveEvents writes the generated events as a JSON array.
func saveEvents(filename string, events []model.AttemptEvent) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	return nil
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var eventsPerSecond float64
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsGenerated) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("events_generated", stats.EventsGenerated),
		logger.Int("batches_submitted", stats.BatchesSubmitted),
		logger.Int("batches_failed", stats.BatchesFailed),
		logger.Int("scored", stats.Scored),
		logger.Int("deduped", stats.Deduped),
		logger.Int("ingested", stats.Ingested),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
		logger.Int("leaderboards_checked", stats.LeaderboardsChecked),
		logger.Int("leaderboard_entries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("events_per_second", eventsPerSecond),
	)
}
