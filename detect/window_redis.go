package detect

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWindowStore is a WindowStore backed by Redis sorted sets, for
// deployments where multiple instances must share one event window. Each
// (event type, identity) pair maps to a sorted set scored by event
// timestamp; counting is a ZCOUNT over the window and expiry is a
// ZREMRANGEBYSCORE against the horizon plus a key TTL.
type RedisWindowStore struct {
	client  *redis.Client
	horizon time.Duration
	nowFunc func() time.Time
	logger  *zap.SugaredLogger
	seq     atomic.Uint64
}

// NewRedisWindowStore creates a Redis-backed window store.
func NewRedisWindowStore(addr, password string, db int, horizon time.Duration, logger *zap.SugaredLogger) *RedisWindowStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisWindowStore{
		client:  client,
		horizon: horizon,
		nowFunc: func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// NewRedisWindowStoreFromClient wraps an existing client, used by tests.
func NewRedisWindowStoreFromClient(client *redis.Client, horizon time.Duration, logger *zap.SugaredLogger) *RedisWindowStore {
	return &RedisWindowStore{
		client:  client,
		horizon: horizon,
		nowFunc: func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// SetNowFunc replaces the clock, for tests that need a fixed time.
func (s *RedisWindowStore) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

// Ping tests the Redis connection.
func (s *RedisWindowStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisWindowStore) Close() error {
	return s.client.Close()
}

func windowKey(eventType, sourceIdentity string) string {
	return "window:" + eventType + ":" + sourceIdentity
}

// Record appends an entry. The member carries a process-local sequence so
// two events with the same nanosecond timestamp stay distinct entries.
func (s *RedisWindowStore) Record(ctx context.Context, sourceIdentity, eventType string, timestamp time.Time) error {
	key := windowKey(eventType, sourceIdentity)
	member := fmt.Sprintf("%d-%d", timestamp.UnixNano(), s.seq.Add(1))

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(timestamp.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(s.nowFunc().Add(-s.horizon).UnixNano(), 10))
	pipe.Expire(ctx, key, s.horizon)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record window entry for %s: %w", sourceIdentity, err)
	}
	return nil
}

// CountRecent scans the keys for the event type and counts entries inside
// the window per identity.
func (s *RedisWindowStore) CountRecent(ctx context.Context, eventType string, window time.Duration) (map[string]int, error) {
	counts := make(map[string]int)
	cutoff := strconv.FormatInt(s.nowFunc().Add(-window).UnixNano(), 10)
	prefix := "window:" + eventType + ":"

	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := s.client.ZCount(ctx, key, "("+cutoff, "+inf").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count window entries for %s: %w", key, err)
		}
		if n > 0 {
			counts[key[len(prefix):]] = int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan window keys: %w", err)
	}
	return counts, nil
}

// CountRecentFor counts matching entries for one identity.
func (s *RedisWindowStore) CountRecentFor(ctx context.Context, sourceIdentity, eventType string, window time.Duration) (int, error) {
	key := windowKey(eventType, sourceIdentity)
	cutoff := strconv.FormatInt(s.nowFunc().Add(-window).UnixNano(), 10)
	n, err := s.client.ZCount(ctx, key, "("+cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count window entries for %s: %w", sourceIdentity, err)
	}
	return int(n), nil
}
