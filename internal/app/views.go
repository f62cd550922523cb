package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/internal/domain/ranking"
)

// AttemptQuery selects a page of attempts. Zero values do not filter.
type AttemptQuery struct {
	TestID        *uuid.UUID
	StudentID     *uuid.UUID
	Status        model.Status
	HasDuplicates *bool
	DateFrom      *time.Time
	DateTo        *time.Time
	Search        string
	Page          int
	PageSize      int
}

// AttemptRow is one line of an attempt listing.
type AttemptRow struct {
	AttemptID     uuid.UUID    `json:"attempt_id"`
	StudentID     uuid.UUID    `json:"student_id"`
	StudentName   string       `json:"student_name"`
	TestID        uuid.UUID    `json:"test_id"`
	TestName      string       `json:"test_name"`
	Status        model.Status `json:"status"`
	Score         *float64     `json:"score"`
	HasDuplicates bool         `json:"has_duplicates"`
	StartedAt     time.Time    `json:"started_at"`
	SubmittedAt   *time.Time   `json:"submitted_at"`
}

// AttemptPage is a page of attempt rows with the total match count.
type AttemptPage struct {
	Items    []AttemptRow `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// ThreadEntry is one attempt of a duplicate thread.
type ThreadEntry struct {
	AttemptID   uuid.UUID    `json:"attempt_id"`
	Status      model.Status `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	IsCanonical bool         `json:"is_canonical"`
}

// AttemptDetail is the full view of one attempt.
type AttemptDetail struct {
	ID                   uuid.UUID           `json:"id"`
	SourceEventID        string              `json:"source_event_id"`
	Student              model.Student       `json:"student"`
	Test                 TestSummary         `json:"test"`
	Status               model.Status        `json:"status"`
	StartedAt            time.Time           `json:"started_at"`
	SubmittedAt          *time.Time          `json:"submitted_at"`
	Answers              model.Answers       `json:"answers"`
	RawPayload           json.RawMessage     `json:"raw_payload"`
	Score                *model.AttemptScore `json:"score"`
	DuplicateOfAttemptID *uuid.UUID          `json:"duplicate_of_attempt_id"`
	DuplicateThread      []ThreadEntry       `json:"duplicate_thread"`
	Flags                []model.Flag        `json:"flags"`
}

// TestSummary describes a test without its answer key.
type TestSummary struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	MaxMarks        int                 `json:"max_marks"`
	NegativeMarking model.MarkingScheme `json:"negative_marking"`
	HasAnswerKey    bool                `json:"has_answer_key"`
	CreatedAt       time.Time           `json:"created_at"`
}

func summarize(t *model.Test) TestSummary {
	return TestSummary{
		ID:              t.ID,
		Name:            t.Name,
		MaxMarks:        t.MaxMarks,
		NegativeMarking: t.Scheme(),
		HasAnswerKey:    len(t.Key()) > 0,
		CreatedAt:       t.CreatedAt,
	}
}

// LeaderboardRow is one ranked student.
type LeaderboardRow struct {
	ranking.Entry
	StudentName string `json:"student_name"`
}

// LeaderboardPage is a page of a test's leaderboard.
type LeaderboardPage struct {
	TestID   uuid.UUID        `json:"test_id"`
	TestName string           `json:"test_name"`
	Items    []LeaderboardRow `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}
