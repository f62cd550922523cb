// Package dedupe decides whether a new attempt resubmits an earlier one.
package dedupe

import (
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/model"
)

// Default duplicate rule: attempts started within 7 minutes of each other
// whose shared answers agree at least 92% of the time.
const (
	DefaultWindow    = 7 * time.Minute
	DefaultThreshold = 0.92
)

// Candidate is the part of an attempt the detector compares.
type Candidate struct {
	ID        uuid.UUID
	StartedAt time.Time
	Answers   model.Answers
}

// FromAttempt builds a Candidate from a stored attempt.
func FromAttempt(a *model.Attempt) Candidate {
	return Candidate{ID: a.ID, StartedAt: a.StartedAt, Answers: a.AnswerMap()}
}

// Similarity returns the share of questions answered in both mappings that
// carry the same label. It is 0 when either mapping is empty or they share
// no question.
func Similarity(a, b model.Answers) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var compared, same int
	for q, ans := range a {
		other, ok := b[q]
		if !ok {
			continue
		}
		compared++
		if other == ans {
			same++
		}
	}
	if compared == 0 {
		return 0
	}
	return float64(same) / float64(compared)
}

// Detector applies the time-window and similarity rule.
type Detector struct {
	window    time.Duration
	threshold float64
}

// NewDetector creates a Detector with the default rule unless overridden.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured start-time window.
func (d *Detector) Window() time.Duration { return d.window }

// Threshold returns the configured similarity threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// IsDuplicate reports whether next resubmits existing. A start-time gap
// wider than the window is never a duplicate; both bounds are inclusive.
func (d *Detector) IsDuplicate(next, existing Candidate) bool {
	gap := next.StartedAt.Sub(existing.StartedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > d.window {
		return false
	}
	return Similarity(next.Answers, existing.Answers) >= d.threshold
}

// FirstMatch returns the first candidate, in the given order, that next
// duplicates. Later candidates are not inspected.
func (d *Detector) FirstMatch(next Candidate, candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if d.IsDuplicate(next, c) {
			return c, true
		}
	}
	return Candidate{}, false
}
