package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss indicates no usable checkpoint exists for the key.
	ErrMiss = errors.New("checkpoint miss")

	// ErrInvalidEntry indicates the stored entry is corrupted.
	ErrInvalidEntry = errors.New("invalid checkpoint entry")
)

// DefaultTTL bounds how long a failed run's pages stay reusable.
const DefaultTTL = 1 * time.Hour

// Manager stores page checkpoints in Redis.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a checkpoint manager. A non-positive ttl uses DefaultTTL.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get returns the stored page for key.
// Returns ErrMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key PageKey) ([]byte, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.Inc()
			return nil, ErrMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		Misses.Inc()
		return nil, ErrMiss
	}

	Hits.Inc()
	return entry.Data, nil
}

// Set stores a page payload with the manager's TTL.
func (m *Manager) Set(ctx context.Context, key PageKey, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("checkpoint payload cannot be empty")
	}

	now := time.Now()
	entry := Entry{
		Data:     json.RawMessage(payload),
		StoredAt: now,
		Expires:  now.Add(m.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal checkpoint entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, m.ttl).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	Size.Add(float64(len(data)))
	return nil
}

// Delete removes one page checkpoint.
func (m *Manager) Delete(ctx context.Context, key PageKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		Errors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every offset stored for key's result set and returns how
// many keys were deleted.
func (m *Manager) Clear(ctx context.Context, key PageKey) (int, error) {
	var keys []string
	iter := m.redis.Scan(ctx, 0, key.Prefix()+":offset=*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		Errors.WithLabelValues("clear").Inc()
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		Errors.WithLabelValues("clear").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return len(keys), nil
}
