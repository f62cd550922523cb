package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/okian/marksheet/internal/domain/identity"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/pkg/metrics"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db *gorm.DB

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closeOnce             sync.Once
}

var _ Store = (*GormStore)(nil)

// Open connects to the database, migrates the schema and starts the
// background metrics updater.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*GormStore, error) {
	cfg := openConfig{
		logLevel:              gormLogger.Warn,
		slowThreshold:         time.Second,
		metricsUpdateInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             cfg.slowThreshold,
			LogLevel:                  cfg.logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if cfg.maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	s := &GormStore{
		db:                    db,
		metricsUpdateInterval: cfg.metricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	if s.metricsUpdateInterval > 0 {
		s.startMetricsUpdater(ctx)
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Close stops the metrics updater and closes the connection pool.
func (s *GormStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

// startMetricsUpdater periodically publishes record counts.
func (s *GormStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *GormStore) updateMetrics(ctx context.Context) {
	c, err := s.Counts(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "metrics_update")
		return
	}
	metrics.UpdateEntityCounts(c.Students, c.Tests, c.Attempts)
}

// observe records the latency of one store operation.
func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// notFound maps gorm's missing-record error to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// FindStudent implements Store.FindStudent.
func (s *GormStore) FindStudent(ctx context.Context, id identity.Identity) (*model.Student, error) {
	defer observe("find_student", time.Now())
	if id.Empty() {
		return nil, ErrNotFound
	}

	q := s.db.WithContext(ctx).Model(&model.Student{})
	switch {
	case id.Email != nil && id.Phone != nil:
		q = q.Where("email = ? OR phone = ?", *id.Email, *id.Phone)
	case id.Email != nil:
		q = q.Where("email = ?", *id.Email)
	default:
		q = q.Where("phone = ?", *id.Phone)
	}

	var st model.Student
	if err := q.Order("created_at, id").First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// CreateStudent implements Store.CreateStudent.
func (s *GormStore) CreateStudent(ctx context.Context, st *model.Student) error {
	defer observe("create_student", time.Now())
	return s.db.WithContext(ctx).Create(st).Error
}

// GetStudent implements Store.GetStudent.
func (s *GormStore) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	defer observe("get_student", time.Now())
	var st model.Student
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// StudentsByID implements Store.StudentsByID.
func (s *GormStore) StudentsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Student, error) {
	defer observe("students_by_id", time.Now())
	out := make(map[uuid.UUID]model.Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Student
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// FindTestByName implements Store.FindTestByName.
func (s *GormStore) FindTestByName(ctx context.Context, name string) (*model.Test, error) {
	defer observe("find_test", time.Now())
	var t model.Test
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// CreateTest implements Store.CreateTest.
func (s *GormStore) CreateTest(ctx context.Context, t *model.Test) error {
	defer observe("create_test", time.Now())
	return s.db.WithContext(ctx).Create(t).Error
}

// GetTest implements Store.GetTest.
func (s *GormStore) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	defer observe("get_test", time.Now())
	var t model.Test
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// TestsByID implements Store.TestsByID.
func (s *GormStore) TestsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Test, error) {
	defer observe("tests_by_id", time.Now())
	out := make(map[uuid.UUID]model.Test, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Test
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// ListTests implements Store.ListTests.
func (s *GormStore) ListTests(ctx context.Context) ([]model.Test, error) {
	defer observe("list_tests", time.Now())
	var rows []model.Test
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateAttempt implements Store.CreateAttempt.
func (s *GormStore) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	defer observe("create_attempt", time.Now())
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAttempt implements Store.GetAttempt.
func (s *GormStore) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	defer observe("get_attempt", time.Now())
	var a model.Attempt
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// PriorAttempts implements Store.PriorAttempts.
func (s *GormStore) PriorAttempts(ctx context.Context, studentID, testID uuid.UUID) ([]model.Attempt, error) {
	defer observe("prior_attempts", time.Now())
	var rows []model.Attempt
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND test_id = ?", studentID, testID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DuplicateThread implements Store.DuplicateThread.
func (s *GormStore) DuplicateThread(ctx context.Context, canonicalID uuid.UUID) ([]model.Attempt, error) {
	defer observe("duplicate_thread", time.Now())
	var rows []model.Attempt
	err := s.db.WithContext(ctx).
		Where("id = ? OR duplicate_of_attempt_id = ?", canonicalID, canonicalID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SearchAttempts implements Store.SearchAttempts. Rows are ordered by start
// time, newest first.
func (s *GormStore) SearchAttempts(ctx context.Context, f AttemptFilter) ([]model.Attempt, int64, error) {
	defer observe("search_attempts", time.Now())
	if f.Page < 1 || f.PageSize < 1 {
		return nil, 0, ErrInvalidPage
	}

	var total int64
	if err := s.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.Attempt
	err := s.filtered(ctx, f).
		Select("attempts.*").
		Order("attempts.started_at DESC, attempts.id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *GormStore) filtered(ctx context.Context, f AttemptFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Attempt{})
	if f.TestID != nil {
		q = q.Where("attempts.test_id = ?", *f.TestID)
	}
	if f.StudentID != nil {
		q = q.Where("attempts.student_id = ?", *f.StudentID)
	}
	if f.Status != "" {
		q = q.Where("attempts.status = ?", f.Status)
	}
	if f.HasDuplicates != nil {
		if *f.HasDuplicates {
			q = q.Where("attempts.duplicate_of_attempt_id IS NOT NULL")
		} else {
			q = q.Where("attempts.duplicate_of_attempt_id IS NULL")
		}
	}
	if f.DateFrom != nil {
		q = q.Where("attempts.started_at >= ?", f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		q = q.Where("attempts.started_at <= ?", f.DateTo.UTC())
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Joins("JOIN students ON students.id = attempts.student_id").
			Where("LOWER(students.full_name) LIKE ? OR LOWER(students.email) LIKE ? OR LOWER(students.phone) LIKE ?", like, like, like)
	}
	return q
}

// SetStatus implements Store.SetStatus.
func (s *GormStore) SetStatus(ctx context.Context, attemptID uuid.UUID, status model.Status) error {
	defer observe("set_status", time.Now())
	return setStatus(s.db.WithContext(ctx), attemptID, status)
}

func setStatus(tx *gorm.DB, attemptID uuid.UUID, status model.Status) error {
	res := tx.Model(&model.Attempt{}).Where("id = ?", attemptID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveScore implements Store.SaveScore.
func (s *GormStore) SaveScore(ctx context.Context, score *model.AttemptScore, status model.Status) error {
	defer observe("save_score", time.Now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}},
			UpdateAll: true,
		}).Create(score).Error
		if err != nil {
			return err
		}
		return setStatus(tx, score.AttemptID, status)
	})
}

// GetScore implements Store.GetScore.
func (s *GormStore) GetScore(ctx context.Context, attemptID uuid.UUID) (*model.AttemptScore, error) {
	defer observe("get_score", time.Now())
	var sc model.AttemptScore
	if err := s.db.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&sc).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

// ScoresByAttempt implements Store.ScoresByAttempt.
func (s *GormStore) ScoresByAttempt(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.AttemptScore, error) {
	defer observe("scores_by_attempt", time.Now())
	out := make(map[uuid.UUID]model.AttemptScore, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.AttemptScore
	if err := s.db.WithContext(ctx).Where("attempt_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.AttemptID] = r
	}
	return out, nil
}

// ScoredAttempts implements Store.ScoredAttempts.
func (s *GormStore) ScoredAttempts(ctx context.Context, testID uuid.UUID) ([]ScoredAttempt, error) {
	defer observe("scored_attempts", time.Now())
	var rows []ScoredAttempt
	err := s.db.WithContext(ctx).
		Table("attempts").
		Select("attempts.id AS attempt_id, attempts.student_id, attempts.submitted_at, "+
			"attempt_scores.score, attempt_scores.accuracy, attempt_scores.net_correct").
		Joins("JOIN attempt_scores ON attempt_scores.attempt_id = attempts.id").
		Where("attempts.test_id = ? AND attempts.status = ?", testID, model.StatusScored).
		Order("attempts.created_at, attempts.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddFlag implements Store.AddFlag.
func (s *GormStore) AddFlag(ctx context.Context, f *model.Flag, status model.Status) error {
	defer observe("add_flag", time.Now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setStatus(tx, f.AttemptID, status); err != nil {
			return err
		}
		return tx.Create(f).Error
	})
}

// ListFlags implements Store.ListFlags.
func (s *GormStore) ListFlags(ctx context.Context, attemptID uuid.UUID) ([]model.Flag, error) {
	defer observe("list_flags", time.Now())
	var rows []model.Flag
	err := s.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Counts implements Store.Counts.
func (s *GormStore) Counts(ctx context.Context) (Counts, error) {
	defer observe("counts", time.Now())
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Student{}).Count(&c.Students).Error; err != nil {
		return Counts{}, err
	}
	if err := db.Model(&model.Test{}).Count(&c.Tests).Error; err != nil {
		return Counts{}, err
	}
	if err := db.Model(&model.Attempt{}).Count(&c.Attempts).Error; err != nil {
		return Counts{}, err
	}
	for status, dst := range map[model.Status]*int64{
		model.StatusScored:  &c.Scored,
		model.StatusDeduped: &c.Deduped,
		model.StatusFlagged: &c.Flagged,
	} {
		if err := db.Model(&model.Attempt{}).Where("status = ?", status).Count(dst).Error; err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}
