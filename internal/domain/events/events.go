// Package events defines the named pipeline milestones and the sink they
// are emitted to.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names. The field sets are a contract for log consumers.
const (
	NameMalformedTimestamp = "malformed_timestamp"
	NameDedupDetected      = "dedup_detected"
	NameScoreComputed      = "score_computed"
	NameInvalidEvent       = "invalid_event"
	NameMalformedIdentity  = "malformed_identity"
	NameScoringFailed      = "scoring_failed"
	NameIngestFailed       = "ingest_failed"
)

// Channels group events by pipeline stage.
const (
	ChannelIngest  = "ingest"
	ChannelDedup   = "dedup"
	ChannelScoring = "scoring"
)

// Severity tells a sink how loudly to report an event.
type Severity int

// Severities.
const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Field is one key-value pair of an event payload.
type Field struct {
	Key   string
	Value any
}

// Event is a named, structured pipeline milestone.
type Event struct {
	Name     string
	Channel  string
	Severity Severity
	Fields   []Field
}

// Get returns the value of the named field.
func (e Event) Get(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Sink receives pipeline events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// MalformedTimestamp reports an event skipped for an unparseable timestamp.
func MalformedTimestamp(sourceEventID string, err error) Event {
	return Event{
		Name:     NameMalformedTimestamp,
		Channel:  ChannelIngest,
		Severity: SeverityWarn,
		Fields:   []Field{{"source_event_id", sourceEventID}, {"error", errString(err)}},
	}
}

// DedupDetected reports an attempt classified as a resubmission of canonicalID.
func DedupDetected(attemptID, canonicalID uuid.UUID) Event {
	return Event{
		Name:    NameDedupDetected,
		Channel: ChannelDedup,
		Fields:  []Field{{"attempt_id", attemptID.String()}, {"canonical_id", canonicalID.String()}},
	}
}

// ScoreComputed reports a scored attempt and how long scoring took.
func ScoreComputed(attemptID uuid.UUID, score float64, d time.Duration) Event {
	return Event{
		Name:    NameScoreComputed,
		Channel: ChannelScoring,
		Fields:  []Field{{"attempt_id", attemptID.String()}, {"score", score}, {"duration", d}},
	}
}

// InvalidEvent reports an event skipped for failing validation.
func InvalidEvent(sourceEventID string, err error) Event {
	return Event{
		Name:     NameInvalidEvent,
		Channel:  ChannelIngest,
		Severity: SeverityWarn,
		Fields:   []Field{{"source_event_id", sourceEventID}, {"error", errString(err)}},
	}
}

// MalformedIdentity reports an event skipped for an unusable email.
func MalformedIdentity(sourceEventID string, err error) Event {
	return Event{
		Name:     NameMalformedIdentity,
		Channel:  ChannelIngest,
		Severity: SeverityWarn,
		Fields:   []Field{{"source_event_id", sourceEventID}, {"error", errString(err)}},
	}
}

// ScoringFailed reports a persisted attempt that could not be scored.
func ScoringFailed(attemptID uuid.UUID, err error) Event {
	return Event{
		Name:     NameScoringFailed,
		Channel:  ChannelScoring,
		Severity: SeverityError,
		Fields:   []Field{{"attempt_id", attemptID.String()}, {"error", errString(err)}},
	}
}

// IngestFailed reports an event abandoned because of a storage error.
func IngestFailed(sourceEventID string, err error) Event {
	return Event{
		Name:     NameIngestFailed,
		Channel:  ChannelIngest,
		Severity: SeverityError,
		Fields:   []Field{{"source_event_id", sourceEventID}, {"error", errString(err)}},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit stores e.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans every event out to each sink in order.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

type multi []Sink

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
