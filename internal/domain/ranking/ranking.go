// Package ranking reduces scored attempts to one best attempt per student
// and orders them into a leaderboard.
package ranking

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Entry is one scored attempt on a leaderboard.
type Entry struct {
	Rank        int        `json:"rank"`
	StudentID   uuid.UUID  `json:"student_id"`
	AttemptID   uuid.UUID  `json:"attempt_id"`
	Score       float64    `json:"score"`
	Accuracy    float64    `json:"accuracy"`
	NetCorrect  int        `json:"net_correct"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// Compare orders a before b when a ranks higher: score, accuracy and
// net_correct descending, then submit time ascending. A missing submit time
// ranks after any present one.
func Compare(a, b Entry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Accuracy, a.Accuracy); c != 0 {
		return c
	}
	if c := cmp.Compare(b.NetCorrect, a.NetCorrect); c != 0 {
		return c
	}
	switch {
	case a.SubmittedAt == nil && b.SubmittedAt == nil:
		return 0
	case a.SubmittedAt == nil:
		return 1
	case b.SubmittedAt == nil:
		return -1
	}
	return a.SubmittedAt.Compare(*b.SubmittedAt)
}

// Best keeps the highest ranked entry of each student. On a full tie the
// entry seen first is kept. Students keep the order of their first entry.
func Best(entries []Entry) []Entry {
	idx := make(map[uuid.UUID]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		i, ok := idx[e.StudentID]
		if !ok {
			idx[e.StudentID] = len(out)
			out = append(out, e)
			continue
		}
		if Compare(e, out[i]) < 0 {
			out[i] = e
		}
	}
	return out
}

// Sort orders entries in place; full ties keep their input order.
func Sort(entries []Entry) {
	slices.SortStableFunc(entries, Compare)
}

// Rank reduces entries to one per student, sorts them and assigns 1-based ranks.
func Rank(entries []Entry) []Entry {
	out := Best(entries)
	Sort(out)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Paginate returns the 1-based page of a ranked list. Out of range pages
// are empty.
func Paginate(entries []Entry, page, pageSize int) []Entry {
	if page < 1 || pageSize < 1 {
		return []Entry{}
	}
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return []Entry{}
	}
	end := min(start+pageSize, len(entries))
	return entries[start:end]
}
