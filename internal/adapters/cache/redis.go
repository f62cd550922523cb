package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/marksheet/internal/domain/ranking"
)

const keyPrefix = "marksheet:leaderboard:"

// Redis is a Leaderboard shared by every process using the same server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. Entries expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrCache, addr, err)
	}
	return client, nil
}

func key(testID uuid.UUID) string { return keyPrefix + testID.String() }

func genKey(testID uuid.UUID) string { return keyPrefix + "gen:" + testID.String() }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGen(ctx context.Context, c getter, testID uuid.UUID) (uint64, error) {
	gen, err := c.Get(ctx, genKey(testID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get implements Leaderboard. The generation is read before the ranking so
// a concurrent invalidation can only make the returned generation older.
func (r *Redis) Get(ctx context.Context, testID uuid.UUID) ([]ranking.Entry, uint64, bool, error) {
	gen, err := readGen(ctx, r.client, testID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: get generation: %w", ErrCache, err)
	}
	raw, err := r.client.Get(ctx, key(testID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("%w: get: %w", ErrCache, err)
	}
	var entries []ranking.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, gen, false, fmt.Errorf("%w: decode: %w", ErrCache, err)
	}
	return entries, gen, true, nil
}

// Set implements Leaderboard. The write runs in a transaction watching the
// generation key, so an Invalidate from any process aborts it.
func (r *Redis) Set(ctx context.Context, testID uuid.UUID, gen uint64, entries []ranking.Entry) (bool, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("%w: encode: %w", ErrCache, err)
	}

	stored := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGen(ctx, tx, testID)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(testID), raw, r.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey(testID))
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: set: %w", ErrCache, err)
	}
	return stored, nil
}

// Invalidate implements Leaderboard.
func (r *Redis) Invalidate(ctx context.Context, testID uuid.UUID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(testID))
		pipe.Del(ctx, key(testID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: invalidate: %w", ErrCache, err)
	}
	return nil
}
