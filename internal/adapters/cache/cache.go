// Package cache keeps computed leaderboards so repeated reads skip the
// full ranking pass.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/marksheet/internal/domain/ranking"
)

// ErrCache wraps failures of the cache backend.
var ErrCache = errors.New("leaderboard cache error")

// Leaderboard caches the full ranked list of a test. Every test carries a
// generation that Invalidate advances; Set only stores a ranking computed
// under the generation still current, so a ranking read from the store
// before an invalidation never replaces it.
type Leaderboard interface {
	// Get returns the cached ranking, whether it was present and the
	// test's current generation. Read the generation before querying the
	// store and hand it back to Set.
	Get(ctx context.Context, testID uuid.UUID) ([]ranking.Entry, uint64, bool, error)
	// Set stores entries when gen is still the test's generation and
	// reports whether they were stored.
	Set(ctx context.Context, testID uuid.UUID, gen uint64, entries []ranking.Entry) (bool, error)
	// Invalidate drops the cached ranking and advances the generation.
	Invalidate(ctx context.Context, testID uuid.UUID) error
}

// Nop never caches anything.
type Nop struct{}

// Get implements Leaderboard.
func (Nop) Get(context.Context, uuid.UUID) ([]ranking.Entry, uint64, bool, error) {
	return nil, 0, false, nil
}

// Set implements Leaderboard.
func (Nop) Set(context.Context, uuid.UUID, uint64, []ranking.Entry) (bool, error) { return false, nil }

// Invalidate implements Leaderboard.
func (Nop) Invalidate(context.Context, uuid.UUID) error { return nil }

type memoryItem struct {
	entries []ranking.Entry
	expires time.Time
}

// Memory is a process-local Leaderboard with a fixed TTL.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[uuid.UUID]memoryItem
	gens  map[uuid.UUID]uint64
	now   func() time.Time
}

// NewMemory creates a Memory cache. A non-positive ttl keeps entries until
// they are invalidated.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:   ttl,
		items: make(map[uuid.UUID]memoryItem),
		gens:  make(map[uuid.UUID]uint64),
		now:   time.Now,
	}
}

// Get implements Leaderboard.
func (m *Memory) Get(_ context.Context, testID uuid.UUID) ([]ranking.Entry, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.gens[testID]
	item, ok := m.items[testID]
	if !ok {
		return nil, gen, false, nil
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		delete(m.items, testID)
		return nil, gen, false, nil
	}
	return cloneEntries(item.entries), gen, true, nil
}

// Set implements Leaderboard.
func (m *Memory) Set(_ context.Context, testID uuid.UUID, gen uint64, entries []ranking.Entry) (bool, error) {
	item := memoryItem{entries: cloneEntries(entries)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gens[testID] != gen {
		return false, nil
	}
	if m.ttl > 0 {
		item.expires = m.now().Add(m.ttl)
	}
	m.items[testID] = item
	return true, nil
}

// Invalidate implements Leaderboard.
func (m *Memory) Invalidate(_ context.Context, testID uuid.UUID) error {
	m.mu.Lock()
	delete(m.items, testID)
	m.gens[testID]++
	m.mu.Unlock()
	return nil
}

func cloneEntries(in []ranking.Entry) []ranking.Entry {
	out := make([]ranking.Entry, len(in))
	copy(out, in)
	return out
}
