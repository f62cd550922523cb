// Package service wires the ingestion pipeline, the job queue and the
// worker pool together and serves the read and moderation operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/adapters/cache"
	"github.com/okian/marksheet/internal/adapters/mq/queue"
	"github.com/okian/marksheet/internal/adapters/mq/worker"
	"github.com/okian/marksheet/internal/adapters/repository"
	"github.com/okian/marksheet/internal/domain/dedupe"
	"github.com/okian/marksheet/internal/domain/events"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/internal/domain/ranking"
	"github.com/okian/marksheet/internal/domain/scoring"
	"github.com/okian/marksheet/pkg/logger"
	"github.com/okian/marksheet/pkg/metrics"
)

// Service defaults.
const (
	DefaultWorkerCount = 1
	DefaultQueueSize   = 1000
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

// Service is the application facade used by the HTTP layer.
type Service struct {
	mu sync.RWMutex

	store    repository.Store
	cache    cache.Leaderboard
	sink     events.Sink
	detector *dedupe.Detector
	engine   *scoring.Engine

	pipeline *Pipeline
	queue    queue.Queue
	pool     *worker.Pool

	workerCount int
	queueSize   int
	maxPageSize int

	started bool
	logger  logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingestion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingestion queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxPageSize caps the page size of listings.
func WithMaxPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.maxPageSize = size
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventSink sets where pipeline events are emitted.
func WithEventSink(sink events.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLeaderboardCache sets the cache holding ranked leaderboards.
func WithLeaderboardCache(c cache.Leaderboard) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithDedupeRule sets the duplicate window and similarity threshold.
func WithDedupeRule(window time.Duration, threshold float64) Option {
	return func(s *Service) {
		s.detector = dedupe.NewDetector(dedupe.WithWindow(window), dedupe.WithThreshold(threshold))
	}
}

// New creates a service over store. Start must be called before Ingest.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		cache:       cache.Nop{},
		detector:    dedupe.NewDetector(),
		engine:      scoring.NewEngine(),
		workerCount: DefaultWorkerCount,
		queueSize:   DefaultQueueSize,
		maxPageSize: DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.sink == nil {
		s.sink = events.NewLogSink(s.logger.Named("events"))
	}
	s.pipeline = NewPipeline(store, s.sink,
		WithDetector(s.detector),
		WithPipelineCache(s.cache),
		WithPipelineLogger(s.logger.Named("pipeline")),
	)
	return s
}

// Start creates the queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("service already started")
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.pipeline,
		worker.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "service started",
		logger.Int("worker_count", s.workerCount),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop closes the queue and waits for queued jobs to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	err := s.pool.Shutdown(ctx)
	s.started = false
	s.logger.Info(ctx, "service stopped")
	return err
}

// Ingest runs a batch through the pipeline and waits for its result. The
// batch keeps running when ctx ends; only the wait is abandoned.
func (s *Service) Ingest(ctx context.Context, batch []model.AttemptEvent) (model.BatchResult, error) {
	s.mu.RLock()
	started, q := s.started, s.queue
	s.mu.RUnlock()
	if !started {
		return model.BatchResult{}, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return model.BatchResult{}, err
	}

	job := queue.NewJob(uuid.NewString(), batch)
	if err := q.Enqueue(ctx, job); err != nil {
		switch {
		case errors.Is(err, queue.ErrFull):
			return model.BatchResult{}, ErrBackpressure
		case errors.Is(err, queue.ErrClosed):
			// Stop closed the queue after the started check.
			return model.BatchResult{}, ErrNotStarted
		}
		return model.BatchResult{}, err
	}

	select {
	case results := <-job.Reply:
		return model.NewBatchResult(results), nil
	case <-ctx.Done():
		return model.BatchResult{}, ctx.Err()
	}
}

// ProcessBatch runs a batch on the calling goroutine, bypassing the queue.
func (s *Service) ProcessBatch(ctx context.Context, batch []model.AttemptEvent) model.BatchResult {
	return model.NewBatchResult(s.pipeline.ProcessBatch(ctx, batch))
}

// Recompute scores an attempt again from its stored answers and the test's
// current answer key, overwriting the previous score.
func (s *Service) Recompute(ctx context.Context, attemptID uuid.UUID) (*model.AttemptScore, error) {
	a, err := s.attempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.StatusDeduped || a.DuplicateOfAttemptID != nil {
		return nil, fmt.Errorf("%w: attempt %s is a duplicate", ErrInvalidOperation, attemptID)
	}
	t, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	start := time.Now()
	report, err := s.engine.Compute(t.Key(), t.Scheme(), a.AnswerMap())
	if err != nil {
		s.sink.Emit(ctx, events.ScoringFailed(a.ID, err))
		if errors.Is(err, scoring.ErrMissingAnswerKey) {
			return nil, fmt.Errorf("%w: %w", ErrConfigurationGap, err)
		}
		return nil, err
	}
	score := newScore(a.ID, report, s.pipeline.now())
	if err := s.store.SaveScore(ctx, score, model.StatusScored); err != nil {
		return nil, fmt.Errorf("save score: %w", err)
	}
	s.sink.Emit(ctx, events.ScoreComputed(a.ID, score.Score, time.Since(start)))
	metrics.RecordRecompute()
	s.pipeline.invalidate(ctx, a.TestID)
	return score, nil
}

// Flag records a moderation note and marks the attempt FLAGGED.
func (s *Service) Flag(ctx context.Context, attemptID uuid.UUID, reason string) (*model.Flag, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	a, err := s.attempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	f := &model.Flag{AttemptID: a.ID, Reason: reason}
	if err := s.store.AddFlag(ctx, f, model.StatusFlagged); err != nil {
		return nil, mapStoreError(err)
	}
	metrics.RecordFlag()
	s.pipeline.invalidate(ctx, a.TestID)
	return f, nil
}

// ListAttempts returns a page of attempts, newest start first.
func (s *Service) ListAttempts(ctx context.Context, q AttemptQuery) (AttemptPage, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page < 1 {
		return AttemptPage{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidInput)
	}
	if q.PageSize < 1 || q.PageSize > s.maxPageSize {
		return AttemptPage{}, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidInput, s.maxPageSize)
	}
	if q.Status != "" && !q.Status.Valid() {
		return AttemptPage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, q.Status)
	}

	attempts, total, err := s.store.SearchAttempts(ctx, repository.AttemptFilter{
		TestID:        q.TestID,
		StudentID:     q.StudentID,
		Status:        q.Status,
		HasDuplicates: q.HasDuplicates,
		DateFrom:      q.DateFrom,
		DateTo:        q.DateTo,
		Search:        strings.TrimSpace(q.Search),
		Page:          q.Page,
		PageSize:      q.PageSize,
	})
	if err != nil {
		return AttemptPage{}, mapStoreError(err)
	}

	studentIDs := make([]uuid.UUID, 0, len(attempts))
	testIDs := make([]uuid.UUID, 0, len(attempts))
	attemptIDs := make([]uuid.UUID, 0, len(attempts))
	for _, a := range attempts {
		studentIDs = append(studentIDs, a.StudentID)
		testIDs = append(testIDs, a.TestID)
		attemptIDs = append(attemptIDs, a.ID)
	}
	students, err := s.store.StudentsByID(ctx, studentIDs)
	if err != nil {
		return AttemptPage{}, err
	}
	tests, err := s.store.TestsByID(ctx, testIDs)
	if err != nil {
		return AttemptPage{}, err
	}
	scores, err := s.store.ScoresByAttempt(ctx, attemptIDs)
	if err != nil {
		return AttemptPage{}, err
	}

	rows := make([]AttemptRow, 0, len(attempts))
	for _, a := range attempts {
		row := AttemptRow{
			AttemptID:     a.ID,
			StudentID:     a.StudentID,
			StudentName:   students[a.StudentID].FullName,
			TestID:        a.TestID,
			TestName:      tests[a.TestID].Name,
			Status:        a.Status,
			HasDuplicates: a.DuplicateOfAttemptID != nil,
			StartedAt:     a.StartedAt,
			SubmittedAt:   a.SubmittedAt,
		}
		if sc, ok := scores[a.ID]; ok {
			v := sc.Score
			row.Score = &v
		}
		rows = append(rows, row)
	}
	return AttemptPage{Items: rows, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// AttemptDetail returns an attempt with its student, test, score, flags and
// duplicate thread.
func (s *Service) AttemptDetail(ctx context.Context, attemptID uuid.UUID) (*AttemptDetail, error) {
	a, err := s.attempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	student, err := s.store.GetStudent(ctx, a.StudentID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	test, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	var score *model.AttemptScore
	switch sc, err := s.store.GetScore(ctx, a.ID); {
	case err == nil:
		score = sc
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	flags, err := s.store.ListFlags(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	canonical := a.ID
	if a.DuplicateOfAttemptID != nil {
		canonical = *a.DuplicateOfAttemptID
	}
	members, err := s.store.DuplicateThread(ctx, canonical)
	if err != nil {
		return nil, err
	}
	thread := make([]ThreadEntry, 0, len(members))
	for _, m := range members {
		if m.ID == a.ID {
			continue
		}
		thread = append(thread, ThreadEntry{
			AttemptID:   m.ID,
			Status:      m.Status,
			StartedAt:   m.StartedAt,
			IsCanonical: m.ID == canonical,
		})
	}

	return &AttemptDetail{
		ID:                   a.ID,
		SourceEventID:        a.SourceEventID,
		Student:              *student,
		Test:                 summarize(test),
		Status:               a.Status,
		StartedAt:            a.StartedAt,
		SubmittedAt:          a.SubmittedAt,
		Answers:              a.AnswerMap(),
		RawPayload:           []byte(a.RawPayload),
		Score:                score,
		DuplicateOfAttemptID: a.DuplicateOfAttemptID,
		DuplicateThread:      thread,
		Flags:                flags,
	}, nil
}

// Leaderboard returns a page of the test's ranking: the best SCORED attempt
// of each student, ordered by score, accuracy, net correct and earliest
// submission.
func (s *Service) Leaderboard(ctx context.Context, testID uuid.UUID, page, pageSize int) (LeaderboardPage, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 || pageSize < 1 || pageSize > s.maxPageSize {
		return LeaderboardPage{}, fmt.Errorf("%w: page must be at least 1 and page_size between 1 and %d", ErrInvalidInput, s.maxPageSize)
	}
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return LeaderboardPage{}, mapStoreError(err)
	}

	ranked, err := s.ranking(ctx, testID)
	if err != nil {
		return LeaderboardPage{}, err
	}
	window := ranking.Paginate(ranked, page, pageSize)

	ids := make([]uuid.UUID, len(window))
	for i, e := range window {
		ids[i] = e.StudentID
	}
	students, err := s.store.StudentsByID(ctx, ids)
	if err != nil {
		return LeaderboardPage{}, err
	}
	rows := make([]LeaderboardRow, len(window))
	for i, e := range window {
		rows[i] = LeaderboardRow{Entry: e, StudentName: students[e.StudentID].FullName}
	}

	return LeaderboardPage{
		TestID:   test.ID,
		TestName: test.Name,
		Items:    rows,
		Total:    len(ranked),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// ranking returns the full ranked list of a test, from cache when possible.
// The cache generation is read before the store so a score landing in
// between keeps the stale ranking out of the cache.
func (s *Service) ranking(ctx context.Context, testID uuid.UUID) ([]ranking.Entry, error) {
	cached, gen, ok, err := s.cache.Get(ctx, testID)
	cacheable := err == nil
	if err != nil {
		s.logger.Warn(ctx, "leaderboard cache read failed",
			logger.String("test_id", testID.String()),
			logger.Error(err),
		)
	}
	if ok {
		metrics.RecordLeaderboardCacheHit()
		return cached, nil
	}
	metrics.RecordLeaderboardCacheMiss()

	rows, err := s.store.ScoredAttempts(ctx, testID)
	if err != nil {
		return nil, err
	}
	entries := make([]ranking.Entry, len(rows))
	for i, r := range rows {
		entries[i] = ranking.Entry{
			StudentID:   r.StudentID,
			AttemptID:   r.AttemptID,
			Score:       r.Score,
			Accuracy:    r.Accuracy,
			NetCorrect:  r.NetCorrect,
			SubmittedAt: r.SubmittedAt,
		}
	}
	ranked := ranking.Rank(entries)
	metrics.RecordLeaderboardSize(len(ranked))

	if !cacheable {
		return ranked, nil
	}
	stored, err := s.cache.Set(ctx, testID, gen, ranked)
	switch {
	case err != nil:
		s.logger.Warn(ctx, "leaderboard cache write failed",
			logger.String("test_id", testID.String()),
			logger.Error(err),
		)
	case !stored:
		s.logger.Debug(ctx, "leaderboard changed while ranking; not cached",
			logger.String("test_id", testID.String()),
		)
	}
	return ranked, nil
}

// ListTests returns every test, oldest first.
func (s *Service) ListTests(ctx context.Context) ([]TestSummary, error) {
	tests, err := s.store.ListTests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TestSummary, len(tests))
	for i := range tests {
		out[i] = summarize(&tests[i])
	}
	return out, nil
}

// GetStats returns service statistics.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"worker_count":  s.workerCount,
		"queue_size":    s.queueSize,
		"max_page_size": s.maxPageSize,
		"dedupe": map[string]interface{}{
			"window":    s.detector.Window().String(),
			"threshold": s.detector.Threshold(),
		},
	}
	if s.started {
		stats["queue_length"] = s.queue.Len(ctx)
		stats["jobs_processed"] = s.pool.Processed()
	}
	if counts, err := s.store.Counts(ctx); err == nil {
		stats["records"] = counts
	} else {
		s.logger.Warn(ctx, "failed to count records", logger.Error(err))
	}
	return stats
}

func (s *Service) attempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := s.store.GetAttempt(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return a, nil
}

// mapStoreError translates repository sentinels into service sentinels.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrInvalidPage):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
