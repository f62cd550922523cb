package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/adapters/cache"
	"github.com/okian/marksheet/internal/adapters/repository"
	"github.com/okian/marksheet/internal/domain/dedupe"
	"github.com/okian/marksheet/internal/domain/events"
	"github.com/okian/marksheet/internal/domain/identity"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/internal/domain/scoring"
	"github.com/okian/marksheet/pkg/logger"
	"github.com/okian/marksheet/pkg/metrics"
	"gorm.io/datatypes"
)

// Reasons reported in EventResult.Skipped.
const (
	SkipInvalidEvent       = events.NameInvalidEvent
	SkipMalformedIdentity  = events.NameMalformedIdentity
	SkipMalformedTimestamp = events.NameMalformedTimestamp
)

// Pipeline turns attempt events into stored, deduplicated and scored
// attempts. Events of a batch are handled in order, so an event sees every
// attempt persisted before it.
type Pipeline struct {
	store    repository.Store
	detector *dedupe.Detector
	engine   *scoring.Engine
	sink     events.Sink
	cache    cache.Leaderboard
	logger   logger.Logger
	now      func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDetector sets the duplicate detector.
func WithDetector(d *dedupe.Detector) PipelineOption {
	return func(p *Pipeline) {
		if d != nil {
			p.detector = d
		}
	}
}

// WithPipelineCache sets the leaderboard cache invalidated on new scores.
func WithPipelineCache(c cache.Leaderboard) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithPipelineLogger sets the logger used for cache failures.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the clock used for computed_at stamps.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline creates a pipeline over store. A nil sink discards events.
func NewPipeline(store repository.Store, sink events.Sink, opts ...PipelineOption) *Pipeline {
	if sink == nil {
		sink = events.Multi()
	}
	p := &Pipeline{
		store:    store,
		detector: dedupe.NewDetector(),
		engine:   scoring.NewEngine(),
		sink:     sink,
		cache:    cache.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}
	return p
}

// ProcessBatch handles every event and returns one result per event, in
// input order. A failing event never stops the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []model.AttemptEvent) []model.EventResult {
	metrics.RecordBatchSize(len(batch))
	results := make([]model.EventResult, len(batch))
	for i := range batch {
		results[i] = p.process(ctx, &batch[i])
	}
	return results
}

func (p *Pipeline) process(ctx context.Context, ev *model.AttemptEvent) model.EventResult {
	res := model.EventResult{SourceEventID: ev.SourceEventID}

	if err := ev.Validate(); err != nil {
		p.sink.Emit(ctx, events.InvalidEvent(ev.SourceEventID, err))
		return p.skip(res, SkipInvalidEvent, err)
	}

	id, err := identity.Normalize(ev.Student.Email, ev.Student.Phone)
	if err != nil {
		p.sink.Emit(ctx, events.MalformedIdentity(ev.SourceEventID, err))
		return p.skip(res, SkipMalformedIdentity, err)
	}

	student, err := p.resolveStudent(ctx, ev.Student, id)
	if err != nil {
		return p.fail(ctx, res, fmt.Errorf("resolve student: %w", err))
	}
	test, err := p.resolveTest(ctx, ev.Test)
	if err != nil {
		return p.fail(ctx, res, fmt.Errorf("resolve test: %w", err))
	}

	startedAt, err := ParseTimestamp(ev.StartedAt)
	if err != nil {
		p.sink.Emit(ctx, events.MalformedTimestamp(ev.SourceEventID, err))
		return p.skip(res, SkipMalformedTimestamp, err)
	}
	submittedAt, err := parseOptionalTimestamp(ev.SubmittedAt)
	if err != nil {
		p.sink.Emit(ctx, events.MalformedTimestamp(ev.SourceEventID, err))
		return p.skip(res, SkipMalformedTimestamp, err)
	}

	payload, err := ev.Payload()
	if err != nil {
		return p.fail(ctx, res, err)
	}
	attempt := &model.Attempt{
		ID:            model.NewID(),
		StudentID:     student.ID,
		TestID:        test.ID,
		SourceEventID: ev.SourceEventID,
		StartedAt:     startedAt,
		SubmittedAt:   submittedAt,
		Answers:       datatypes.NewJSONType(ev.Answers),
		RawPayload:    datatypes.JSON(payload),
		Status:        model.StatusIngested,
	}

	canonical, dup, err := p.findDuplicate(ctx, attempt)
	if err != nil {
		return p.fail(ctx, res, fmt.Errorf("load prior attempts: %w", err))
	}
	if dup {
		attempt.Status = model.StatusDeduped
		attempt.DuplicateOfAttemptID = &canonical
	}

	if err := p.store.CreateAttempt(ctx, attempt); err != nil {
		return p.fail(ctx, res, fmt.Errorf("create attempt: %w", err))
	}
	attemptID := attempt.ID
	res.AttemptID = &attemptID
	res.Status = attempt.Status

	if dup {
		res.DuplicateOf = attempt.DuplicateOfAttemptID
		p.sink.Emit(ctx, events.DedupDetected(attempt.ID, canonical))
		metrics.RecordAttemptIngested(string(model.StatusDeduped))
		return res
	}

	if _, err := p.score(ctx, attempt, test); err != nil {
		res.Error = err.Error()
		metrics.RecordAttemptIngested(string(model.StatusIngested))
		return res
	}
	res.Status = model.StatusScored
	metrics.RecordAttemptIngested(string(model.StatusScored))
	return res
}

// resolveStudent returns the oldest student sharing the normalized email or
// phone, creating one when none exists.
func (p *Pipeline) resolveStudent(ctx context.Context, in *model.StudentInput, id identity.Identity) (*model.Student, error) {
	s, err := p.store.FindStudent(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	s = &model.Student{
		FullName: strings.TrimSpace(in.FullName),
		Email:    id.Email,
		Phone:    id.Phone,
	}
	if err := p.store.CreateStudent(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// resolveTest returns the test whose name matches the event's exactly. The
// first event naming a test defines its scheme and answer key; later events
// never change them.
func (p *Pipeline) resolveTest(ctx context.Context, in *model.TestInput) (*model.Test, error) {
	t, err := p.store.FindTestByName(ctx, in.Name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	t = &model.Test{
		Name:            in.Name,
		MaxMarks:        in.MaxMarks,
		NegativeMarking: datatypes.NewJSONType(in.NegativeMarking.Scheme()),
		AnswerKey:       datatypes.NewJSONType(in.AnswerKey),
	}
	if err := p.store.CreateTest(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// findDuplicate compares the attempt with every earlier attempt of the same
// student and test, oldest first.
func (p *Pipeline) findDuplicate(ctx context.Context, a *model.Attempt) (uuid.UUID, bool, error) {
	prior, err := p.store.PriorAttempts(ctx, a.StudentID, a.TestID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if len(prior) == 0 {
		return uuid.Nil, false, nil
	}
	candidates := make([]dedupe.Candidate, len(prior))
	for i := range prior {
		candidates[i] = dedupe.FromAttempt(&prior[i])
	}
	match, ok := p.detector.FirstMatch(dedupe.FromAttempt(a), candidates)
	if !ok {
		return uuid.Nil, false, nil
	}
	return match.ID, true, nil
}

// score computes and stores the attempt's score, moving it to SCORED. On
// failure the attempt keeps its status.
func (p *Pipeline) score(ctx context.Context, a *model.Attempt, t *model.Test) (*model.AttemptScore, error) {
	start := time.Now()
	report, err := p.engine.Compute(t.Key(), t.Scheme(), a.AnswerMap())
	if err != nil {
		p.sink.Emit(ctx, events.ScoringFailed(a.ID, err))
		return nil, err
	}

	s := newScore(a.ID, report, p.now())
	if err := p.store.SaveScore(ctx, s, model.StatusScored); err != nil {
		p.sink.Emit(ctx, events.ScoringFailed(a.ID, err))
		return nil, fmt.Errorf("save score: %w", err)
	}
	elapsed := time.Since(start)
	metrics.RecordScoringLatency(float64(elapsed.Microseconds()) / 1000)
	p.sink.Emit(ctx, events.ScoreComputed(a.ID, s.Score, elapsed))
	p.invalidate(ctx, t.ID)
	return s, nil
}

func (p *Pipeline) invalidate(ctx context.Context, testID uuid.UUID) {
	if err := p.cache.Invalidate(ctx, testID); err != nil {
		p.logger.Warn(ctx, "leaderboard cache invalidation failed",
			logger.String("test_id", testID.String()),
			logger.Error(err),
		)
	}
}

func (p *Pipeline) skip(res model.EventResult, reason string, err error) model.EventResult {
	metrics.RecordEventSkipped(reason)
	res.Skipped = reason
	res.Error = err.Error()
	return res
}

func (p *Pipeline) fail(ctx context.Context, res model.EventResult, err error) model.EventResult {
	p.sink.Emit(ctx, events.IngestFailed(res.SourceEventID, err))
	metrics.RecordErrorByComponent("pipeline", "ingest_error")
	res.Error = err.Error()
	return res
}

func newScore(attemptID uuid.UUID, r scoring.Report, at time.Time) *model.AttemptScore {
	return &model.AttemptScore{
		AttemptID:   attemptID,
		Correct:     r.Correct,
		Wrong:       r.Wrong,
		Skipped:     r.Skipped,
		Accuracy:    r.Accuracy,
		NetCorrect:  r.NetCorrect,
		Score:       r.Score,
		Explanation: datatypes.NewJSONType(r.Explanation),
		ComputedAt:  at,
	}
}
