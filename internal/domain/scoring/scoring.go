// Package scoring applies an answer key and marking scheme to an attempt.
package scoring

import (
	"errors"
	"math"

	"github.com/okian/marksheet/internal/domain/model"
)

// ErrMissingAnswerKey is returned when a test has no answer key to score against.
var ErrMissingAnswerKey = errors.New("test has no answer key")

const percent = 100

// Report is the deterministic outcome of scoring one attempt.
type Report struct {
	Correct     int
	Wrong       int
	Skipped     int
	Accuracy    float64
	NetCorrect  int
	Score       float64
	Explanation model.Explanation
}

// Attempted is the number of questions answered correctly or wrongly.
func (r Report) Attempted() int { return r.Correct + r.Wrong }

// Engine computes score reports. It holds no state and is safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a scoring engine.
func NewEngine() *Engine { return &Engine{} }

// Compute scores answers against key. Only key questions count: a missing
// answer or SKIP is skipped, an equal label is correct, anything else wrong.
// The score is not clamped.
func (e *Engine) Compute(key model.AnswerKey, scheme model.MarkingScheme, answers model.Answers) (Report, error) {
	if len(key) == 0 {
		return Report{}, ErrMissingAnswerKey
	}

	var r Report
	for q, want := range key {
		got, ok := answers[q]
		switch {
		case !ok || got == model.SkipLabel:
			r.Skipped++
		case got == want:
			r.Correct++
		default:
			r.Wrong++
		}
	}

	if n := r.Attempted(); n > 0 {
		r.Accuracy = Round2(percent * float64(r.Correct) / float64(n))
	}
	r.NetCorrect = r.Correct - r.Wrong
	r.Score = float64(r.Correct)*scheme.Correct +
		float64(r.Wrong)*scheme.Wrong +
		float64(r.Skipped)*scheme.Skip
	r.Explanation = model.Explanation{
		Config: scheme,
		Counts: model.Counts{Correct: r.Correct, Wrong: r.Wrong, Skipped: r.Skipped},
	}
	return r, nil
}

// Round2 rounds to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*percent) / percent
}
