// Package repository persists students, tests, attempts, scores and flags.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/identity"
	"github.com/okian/marksheet/internal/domain/model"
)

// AttemptFilter narrows an attempt listing. Zero values do not filter.
type AttemptFilter struct {
	TestID        *uuid.UUID
	StudentID     *uuid.UUID
	Status        model.Status
	HasDuplicates *bool
	DateFrom      *time.Time
	DateTo        *time.Time
	// Search matches a case-insensitive substring of the student's name,
	// email or phone.
	Search   string
	Page     int
	PageSize int
}

// ScoredAttempt joins a SCORED attempt with its score.
type ScoredAttempt struct {
	AttemptID   uuid.UUID
	StudentID   uuid.UUID
	SubmittedAt *time.Time
	Score       float64
	Accuracy    float64
	NetCorrect  int
}

// Counts are the number of stored records per kind.
type Counts struct {
	Students int64 `json:"students"`
	Tests    int64 `json:"tests"`
	Attempts int64 `json:"attempts"`
	Scored   int64 `json:"scored"`
	Deduped  int64 `json:"deduped"`
	Flagged  int64 `json:"flagged"`
}

// Store provides read/write access to the records. Lookups of a single
// record return ErrNotFound when it does not exist.
type Store interface {
	// FindStudent returns the oldest student matching the normalized email
	// or phone. An empty identity never matches.
	FindStudent(ctx context.Context, id identity.Identity) (*model.Student, error)
	CreateStudent(ctx context.Context, s *model.Student) error
	GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error)
	StudentsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Student, error)

	FindTestByName(ctx context.Context, name string) (*model.Test, error)
	CreateTest(ctx context.Context, t *model.Test) error
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
	TestsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Test, error)
	ListTests(ctx context.Context) ([]model.Test, error)

	CreateAttempt(ctx context.Context, a *model.Attempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	// PriorAttempts returns every attempt of the pair in creation order.
	PriorAttempts(ctx context.Context, studentID, testID uuid.UUID) ([]model.Attempt, error)
	// DuplicateThread returns the canonical attempt and every attempt marked
	// as its duplicate, in creation order.
	DuplicateThread(ctx context.Context, canonicalID uuid.UUID) ([]model.Attempt, error)
	SearchAttempts(ctx context.Context, f AttemptFilter) ([]model.Attempt, int64, error)
	SetStatus(ctx context.Context, attemptID uuid.UUID, status model.Status) error

	// SaveScore upserts the score and sets the attempt status atomically.
	SaveScore(ctx context.Context, score *model.AttemptScore, status model.Status) error
	GetScore(ctx context.Context, attemptID uuid.UUID) (*model.AttemptScore, error)
	ScoresByAttempt(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.AttemptScore, error)
	// ScoredAttempts returns the SCORED attempts of a test with their
	// scores, in creation order.
	ScoredAttempts(ctx context.Context, testID uuid.UUID) ([]ScoredAttempt, error)

	// AddFlag appends the flag and sets the attempt status atomically.
	AddFlag(ctx context.Context, f *model.Flag, status model.Status) error
	ListFlags(ctx context.Context, attemptID uuid.UUID) ([]model.Flag, error)

	Counts(ctx context.Context) (Counts, error)
	Close() error
}
