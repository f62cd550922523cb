package seeder

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/marksheet/internal/domain/model"
)

var labels = []string{"A", "B", "C", "D"}

// Generator produces attempt events. It is not safe for concurrent use.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	base time.Time
}

// NewGenerator creates a generator seeded from cfg.Seed.
func NewGenerator(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		base: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

type testDef struct {
	name   string
	key    model.AnswerKey
	scheme model.MarkingScheme
}

type studentDef struct {
	name  string
	email string
	phone string
	skill float64
}

// Generate returns one attempt per student and test, followed by the
// resubmissions, and the number of resubmissions placed.
func (g *Generator) Generate() ([]model.AttemptEvent, int) {
	tests := g.tests()
	students := g.students()

	events := make([]model.AttemptEvent, 0, len(tests)*len(students))
	var resubmits []model.AttemptEvent
	seq := 0
	for ti, t := range tests {
		for si, s := range students {
			answers := g.answers(t.key, s.skill)
			started := g.base.Add(time.Duration(ti)*24*time.Hour + time.Duration(si)*time.Minute)
			seq++
			events = append(events, g.event(seq, s, t, started, answers))

			if g.rng.Float64() < g.cfg.ResubmitRate {
				seq++
				again := started.Add(time.Duration(1+g.rng.IntN(5)) * time.Minute)
				resubmits = append(resubmits, g.event(seq, g.variant(s), t, again, answers))
			}
		}
	}
	return append(events, resubmits...), len(resubmits)
}

func (g *Generator) tests() []testDef {
	out := make([]testDef, g.cfg.Tests)
	for i := range out {
		key := make(model.AnswerKey, g.cfg.Questions)
		for q := 1; q <= g.cfg.Questions; q++ {
			key[fmt.Sprintf("q%d", q)] = labels[g.rng.IntN(len(labels))]
		}
		out[i] = testDef{
			name:   fmt.Sprintf("Mock Test %02d", i+1),
			key:    key,
			scheme: model.MarkingScheme{Correct: 4, Wrong: -1, Skip: 0},
		}
	}
	return out
}

func (g *Generator) students() []studentDef {
	out := make([]studentDef, g.cfg.Students)
	for i := range out {
		out[i] = studentDef{
			name:  fmt.Sprintf("Student %04d", i+1),
			email: fmt.Sprintf("student.%04d@gmail.com", i+1),
			phone: fmt.Sprintf("+1 555 %07d", i+1),
			skill: 0.3 + 0.65*g.rng.Float64(),
		}
	}
	return out
}

// variant writes the same identity the way a student might type it again.
func (g *Generator) variant(s studentDef) studentDef {
	switch g.rng.IntN(3) {
	case 0:
		s.email = "Student" + s.email[len("student."):]
	case 1:
		s.email = s.email[:len(s.email)-len("@gmail.com")] + "+retry@GMAIL.com"
	default:
		s.email = ""
	}
	return s
}

func (g *Generator) answers(key model.AnswerKey, skill float64) model.Answers {
	out := make(model.Answers, len(key))
	for q, want := range key {
		switch r := g.rng.Float64(); {
		case r < 0.1:
			out[q] = model.SkipLabel
		case r < 0.1+0.9*skill:
			out[q] = want
		default:
			out[q] = labels[g.rng.IntN(len(labels))]
		}
	}
	return out
}

func (g *Generator) event(seq int, s studentDef, t testDef, started time.Time, answers model.Answers) model.AttemptEvent {
	correct, wrong, skip := t.scheme.Correct, t.scheme.Wrong, t.scheme.Skip
	submitted := started.Add(time.Duration(20+g.rng.IntN(40)) * time.Minute).Format(time.RFC3339)
	ev := model.AttemptEvent{
		SourceEventID: fmt.Sprintf("seed-%d-%06d", g.cfg.Seed, seq),
		Student:       &model.StudentInput{FullName: s.name, Phone: &s.phone},
		Test: &model.TestInput{
			Name:            t.name,
			MaxMarks:        len(t.key) * int(correct),
			NegativeMarking: &model.SchemeInput{Correct: &correct, Wrong: &wrong, Skip: &skip},
			AnswerKey:       t.key,
		},
		StartedAt:   started.Format(time.RFC3339),
		SubmittedAt: &submitted,
		Answers:     answers,
	}
	if s.email != "" {
		email := s.email
		ev.Student.Email = &email
	}
	return ev
}
