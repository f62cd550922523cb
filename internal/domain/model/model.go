// Package model contains domain records passed between layers.
//
// Records are plain data linked by explicit foreign-key ids; navigation
// between them goes through the record store.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an attempt.
type Status string

// Attempt statuses.
const (
	StatusIngested Status = "INGESTED"
	StatusScored   Status = "SCORED"
	StatusDeduped  Status = "DEDUPED"
	StatusFlagged  Status = "FLAGGED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIngested, StatusScored, StatusDeduped, StatusFlagged:
		return true
	}
	return false
}

// SkipLabel is the answer label a student uses to skip a question.
const SkipLabel = "SKIP"

// Answers maps question ids to the chosen answer label.
type Answers map[string]string

// AnswerKey maps question ids to the correct answer label.
type AnswerKey map[string]string

// MarkingScheme holds the points awarded per outcome. Values may be negative.
type MarkingScheme struct {
	Correct float64 `json:"correct"`
	Wrong   float64 `json:"wrong"`
	Skip    float64 `json:"skip"`
}

// Counts are the raw per-outcome question counts of a scored attempt.
type Counts struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
	Skipped int `json:"skipped"`
}

// Explanation records the inputs a score was computed from.
type Explanation struct {
	Config MarkingScheme `json:"config"`
	Counts Counts        `json:"counts"`
}

// NewID returns a time-ordered id.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Student is an identity record. It is never mutated after creation.
type Student struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FullName  string    `gorm:"not null" json:"full_name"`
	Email     *string   `gorm:"index" json:"email,omitempty"`
	Phone     *string   `gorm:"index" json:"phone,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// BeforeCreate assigns an id when none is set.
func (s *Student) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = NewID()
	}
	return nil
}

// Test is an assessment definition keyed by its name.
type Test struct {
	ID              uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string                            `gorm:"not null;uniqueIndex" json:"name"`
	MaxMarks        int                               `json:"max_marks"`
	NegativeMarking datatypes.JSONType[MarkingScheme] `json:"negative_marking"`
	AnswerKey       datatypes.JSONType[AnswerKey]     `json:"answer_key"`
	CreatedAt       time.Time                         `gorm:"not null" json:"created_at"`
}

// BeforeCreate assigns an id when none is set.
func (t *Test) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = NewID()
	}
	return nil
}

// Scheme returns the stored marking scheme.
func (t *Test) Scheme() MarkingScheme { return t.NegativeMarking.Data() }

// Key returns the stored answer key, nil when the test has none.
func (t *Test) Key() AnswerKey { return t.AnswerKey.Data() }

// Attempt is the record produced by one ingestion event. Only Status and
// DuplicateOfAttemptID change after creation.
type Attempt struct {
	ID                   uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	StudentID            uuid.UUID                   `gorm:"type:uuid;not null;index:idx_attempts_student_test,priority:1" json:"student_id"`
	TestID               uuid.UUID                   `gorm:"type:uuid;not null;index:idx_attempts_student_test,priority:2" json:"test_id"`
	SourceEventID        string                      `gorm:"index" json:"source_event_id"`
	StartedAt            time.Time                   `gorm:"not null;index" json:"started_at"`
	SubmittedAt          *time.Time                  `json:"submitted_at,omitempty"`
	Answers              datatypes.JSONType[Answers] `json:"answers"`
	RawPayload           datatypes.JSON              `json:"raw_payload"`
	Status               Status                      `gorm:"type:varchar(16);not null;index" json:"status"`
	DuplicateOfAttemptID *uuid.UUID                  `gorm:"type:uuid;index" json:"duplicate_of_attempt_id,omitempty"`
	CreatedAt            time.Time                   `gorm:"not null;index" json:"created_at"`
}

// BeforeCreate assigns an id when none is set.
func (a *Attempt) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = NewID()
	}
	return nil
}

// AnswerMap returns the stored answers.
func (a *Attempt) AnswerMap() Answers { return a.Answers.Data() }

// AttemptScore is the scoring outcome of a non-duplicate attempt. It is
// overwritten in place on recomputation.
type AttemptScore struct {
	AttemptID   uuid.UUID                       `gorm:"type:uuid;primaryKey" json:"attempt_id"`
	Correct     int                             `json:"correct"`
	Wrong       int                             `json:"wrong"`
	Skipped     int                             `json:"skipped"`
	Accuracy    float64                         `json:"accuracy"`
	NetCorrect  int                             `json:"net_correct"`
	Score       float64                         `json:"score"`
	Explanation datatypes.JSONType[Explanation] `json:"explanation"`
	ComputedAt  time.Time                       `gorm:"not null" json:"computed_at"`
}

// Flag is an append-only moderation note on an attempt.
type Flag struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AttemptID uuid.UUID `gorm:"type:uuid;not null;index" json:"attempt_id"`
	Reason    string    `gorm:"not null" json:"reason"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate assigns an id when none is set.
func (f *Flag) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = NewID()
	}
	return nil
}

// All lists every persisted record type, in migration order.
func All() []any {
	return []any{&Student{}, &Test{}, &Attempt{}, &AttemptScore{}, &Flag{}}
}
