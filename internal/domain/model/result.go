package model

import "github.com/google/uuid"

// EventResult is the ingestion outcome of one event.
type EventResult struct {
	SourceEventID string     `json:"source_event_id"`
	AttemptID     *uuid.UUID `json:"attempt_id,omitempty"`
	Status        Status     `json:"status,omitempty"`
	// Skipped names the reason an event was not persisted.
	Skipped     string     `json:"skipped,omitempty"`
	DuplicateOf *uuid.UUID `json:"duplicate_of,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Persisted reports whether the event produced an attempt.
func (r EventResult) Persisted() bool { return r.AttemptID != nil }

// BatchResult summarizes one ingestion batch in input order.
type BatchResult struct {
	Received int           `json:"received"`
	Scored   int           `json:"scored"`
	Deduped  int           `json:"deduped"`
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Results  []EventResult `json:"results"`
}

// NewBatchResult tallies per-event results.
func NewBatchResult(results []EventResult) BatchResult {
	b := BatchResult{Received: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.Skipped != "":
			b.Skipped++
		case !r.Persisted():
			b.Failed++
		case r.Status == StatusScored:
			b.Scored++
		case r.Status == StatusDeduped:
			b.Deduped++
		default:
			b.Ingested++
		}
	}
	return b
}
