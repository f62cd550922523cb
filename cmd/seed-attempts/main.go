package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/okian/marksheet/internal/seeder"
	"github.com/okian/marksheet/pkg/logger"
)

// Upper bound for a whole seeding run.
const runTimeout = 10 * time.Minute

func main() {
	var (
		baseURL      = flag.String("url", seeder.DefaultBaseURL, "Base URL of the service")
		students     = flag.Int("students", seeder.DefaultStudents, "Number of distinct students")
		tests        = flag.Int("tests", seeder.DefaultTests, "Number of tests")
		questions    = flag.Int("questions", seeder.DefaultQuestions, "Questions per test")
		resubmitRate = flag.Float64("resubmit-rate", seeder.DefaultResubmitRate, "Share of attempts resubmitted inside the duplicate window")
		batchSize    = flag.Int("batch", seeder.DefaultBatchSize, "Events per ingest request")
		workers      = flag.Int("workers", seeder.DefaultWorkers, "Number of concurrent submitters")
		timeout      = flag.Duration("timeout", seeder.DefaultTimeout, "HTTP request timeout")
		seed         = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed")
		outputFile   = flag.String("output", "", "Write the generated events to this file")
		verbose      = flag.Bool("verbose", false, "Log every batch")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Fprintln(os.Stderr, "seed-attempts posts generated attempt batches to a running service and verifies every leaderboard.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
		return
	}

	if err := logger.Init("text"); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	_, err := seeder.Run(ctx, seeder.Config{
		BaseURL:      *baseURL,
		Students:     *students,
		Tests:        *tests,
		Questions:    *questions,
		ResubmitRate: *resubmitRate,
		BatchSize:    *batchSize,
		Workers:      *workers,
		Timeout:      *timeout,
		Seed:         *seed,
		OutputFile:   *outputFile,
		Verbose:      *verbose,
	})
	if err != nil {
		os.Stderr.WriteString("seeding failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
