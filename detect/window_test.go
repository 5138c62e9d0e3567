package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bastion/core"
)

func newMemoryStore(t *testing.T, horizon time.Duration) *MemoryWindowStore {
	t.Helper()
	s, err := NewMemoryWindowStore(horizon, zap.NewNop().Sugar())
	require.NoError(t, err)
	return s
}

func TestMemoryWindowStore_CountRecent(t *testing.T) {
	s := newMemoryStore(t, 10*time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, "10.0.0.1", core.EventLoginFailed, base.Add(-4*time.Minute)))
	require.NoError(t, s.Record(ctx, "10.0.0.1", core.EventLoginFailed, base.Add(-2*time.Minute)))
	require.NoError(t, s.Record(ctx, "10.0.0.1", core.EventHTTPRequest, base.Add(-time.Minute)))
	require.NoError(t, s.Record(ctx, "10.0.0.2", core.EventLoginFailed, base.Add(-time.Minute)))
	require.NoError(t, s.Record(ctx, "10.0.0.3", core.EventLoginFailed, base.Add(-8*time.Minute)))

	counts, err := s.CountRecent(ctx, core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"10.0.0.1": 2, "10.0.0.2": 1}, counts,
		"event type filter applies and stale identities are excluded")

	n, err := s.CountRecentFor(ctx, "10.0.0.1", core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountRecentFor(ctx, "10.9.9.9", core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unknown identity yields zero, not an error")
}

func TestMemoryWindowStore_EmptyStore(t *testing.T) {
	s := newMemoryStore(t, 10*time.Minute)
	counts, err := s.CountRecent(context.Background(), core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestMemoryWindowStore_EntriesAgeOut(t *testing.T) {
	s := newMemoryStore(t, 10*time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetNowFunc(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, "10.0.0.1", core.EventLoginFailed, base))

	n, err := s.CountRecentFor(ctx, "10.0.0.1", core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Advance the clock past the query window but inside the horizon
	now = base.Add(6 * time.Minute)
	n, err = s.CountRecentFor(ctx, "10.0.0.1", core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "entries outside the window are not counted")

	// Advance past the horizon: the entry is pruned entirely
	now = base.Add(11 * time.Minute)
	counts, err := s.CountRecent(ctx, core.EventLoginFailed, 15*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestMemoryWindowStore_OutOfOrderTimestamps(t *testing.T) {
	s := newMemoryStore(t, 10*time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	// Arrival order differs from event time order; only count matters
	require.NoError(t, s.Record(ctx, "u-1", core.EventLoginFailed, base.Add(-time.Minute)))
	require.NoError(t, s.Record(ctx, "u-1", core.EventLoginFailed, base.Add(-4*time.Minute)))
	require.NoError(t, s.Record(ctx, "u-1", core.EventLoginFailed, base.Add(-2*time.Minute)))

	n, err := s.CountRecentFor(ctx, "u-1", core.EventLoginFailed, 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryWindowStore_PerIdentityCap(t *testing.T) {
	s := newMemoryStore(t, time.Hour)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	for i := 0; i < core.MaxEntriesPerIdentity+50; i++ {
		require.NoError(t, s.Record(ctx, "noisy", core.EventLoginFailed, base))
	}

	n, err := s.CountRecentFor(ctx, "noisy", core.EventLoginFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, core.MaxEntriesPerIdentity, n, "a single noisy source is capped")
}

func TestMemoryWindowStore_ConcurrentAccess(t *testing.T) {
	s := newMemoryStore(t, 10*time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	identities := []string{"a", "b", "c", "d"}
	for _, id := range identities {
		for i := 0; i < 50; i++ {
			wg.Add(2)
			identity := id
			go func() {
				defer wg.Done()
				_ = s.Record(ctx, identity, core.EventLoginFailed, time.Now().UTC())
			}()
			go func() {
				defer wg.Done()
				_, _ = s.CountRecentFor(ctx, identity, core.EventLoginFailed, 5*time.Minute)
			}()
		}
	}
	wg.Wait()

	counts, err := s.CountRecent(ctx, core.EventLoginFailed, 5*time.Minute)
	require.NoError(t, err)
	for _, id := range identities {
		assert.Equal(t, 50, counts[id], "no recorded entry may be lost under concurrency")
	}
}
