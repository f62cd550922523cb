package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvent is returned when an ingestion event fails validation.
var ErrInvalidEvent = errors.New("invalid attempt event")

var validate = validator.New(validator.WithRequiredStructEnabled())

// StudentInput identifies the student who took an attempt.
type StudentInput struct {
	FullName string  `json:"full_name" validate:"required"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// SchemeInput is the marking scheme as sent by the ingester. Every weight
// must be present; zero is a valid weight.
type SchemeInput struct {
	Correct *float64 `json:"correct" validate:"required"`
	Wrong   *float64 `json:"wrong" validate:"required"`
	Skip    *float64 `json:"skip" validate:"required"`
}

// Scheme returns the validated marking scheme.
func (s *SchemeInput) Scheme() MarkingScheme {
	var m MarkingScheme
	if s == nil {
		return m
	}
	if s.Correct != nil {
		m.Correct = *s.Correct
	}
	if s.Wrong != nil {
		m.Wrong = *s.Wrong
	}
	if s.Skip != nil {
		m.Skip = *s.Skip
	}
	return m
}

// TestInput describes the test an attempt belongs to.
type TestInput struct {
	Name            string       `json:"name" validate:"required"`
	MaxMarks        int          `json:"max_marks" validate:"gte=0"`
	NegativeMarking *SchemeInput `json:"negative_marking" validate:"required"`
	AnswerKey       AnswerKey    `json:"answer_key,omitempty"`
}

// AttemptEvent is one self-reported attempt submitted for ingestion.
// Timestamps stay raw strings; parsing them is part of ingestion.
type AttemptEvent struct {
	SourceEventID string        `json:"source_event_id" validate:"required"`
	Student       *StudentInput `json:"student" validate:"required"`
	Test          *TestInput    `json:"test" validate:"required"`
	StartedAt     string        `json:"started_at" validate:"required"`
	SubmittedAt   *string       `json:"submitted_at,omitempty"`
	Answers       Answers       `json:"answers" validate:"required"`

	// Raw is the event exactly as received. It is stored for audit.
	Raw json.RawMessage `json:"-"`
}

// Validate checks required fields and marking scheme keys.
func (e *AttemptEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// Payload returns the raw event, re-encoding it when no raw form was kept.
func (e *AttemptEvent) Payload() (json.RawMessage, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return b, nil
}

// DecodeEvents splits a JSON array into events, keeping each raw element.
func DecodeEvents(body []byte) ([]AttemptEvent, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	events := make([]AttemptEvent, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &events[i]); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", i, err)
		}
		events[i].Raw = raw
	}
	return events, nil
}
