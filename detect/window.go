package detect

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"bastion/core"
)

// WindowStore holds recent event history per source identity for a bounded
// time horizon. It is the only shared mutable structure in the detection
// path; implementations serialize access per identity so cross-identity
// operations do not block each other.
type WindowStore interface {
	// Record appends an entry for the identity.
	Record(ctx context.Context, sourceIdentity, eventType string, timestamp time.Time) error
	// CountRecent returns, for every identity with at least one matching
	// entry newer than now-window, the count of such entries. Empty input
	// yields an empty map.
	CountRecent(ctx context.Context, eventType string, window time.Duration) (map[string]int, error)
	// CountRecentFor counts matching entries for a single identity.
	CountRecentFor(ctx context.Context, sourceIdentity, eventType string, window time.Duration) (int, error)
}

// windowEntry is one retained event. Only count and recency matter;
// insertion order is irrelevant.
type windowEntry struct {
	eventType string
	timestamp time.Time
}

// identityWindow holds the entries for one source identity behind its own
// mutex.
type identityWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// MemoryWindowStore is the in-process WindowStore. Identities live in an
// LRU so a flood of distinct sources cannot exhaust memory; entries are
// pruned lazily against the horizon on every access. Pruning only removes
// entries older than the horizon, which is at least as large as any query
// window, so a concurrent count never loses an entry it should see.
type MemoryWindowStore struct {
	identities *lru.Cache[string, *identityWindow]
	horizon    time.Duration
	maxEntries int
	nowFunc    func() time.Time
	logger     *zap.SugaredLogger
}

// NewMemoryWindowStore creates a store retaining entries up to horizon.
// The horizon must cover the largest window any consumer queries with.
func NewMemoryWindowStore(horizon time.Duration, logger *zap.SugaredLogger) (*MemoryWindowStore, error) {
	identities, err := lru.New[string, *identityWindow](core.MaxWindowIdentities)
	if err != nil {
		return nil, err
	}
	return &MemoryWindowStore{
		identities: identities,
		horizon:    horizon,
		maxEntries: core.MaxEntriesPerIdentity,
		nowFunc:    func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}, nil
}

// SetNowFunc replaces the clock, for tests that need a fixed time.
func (s *MemoryWindowStore) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

func (s *MemoryWindowStore) window(sourceIdentity string) *identityWindow {
	if w, ok := s.identities.Get(sourceIdentity); ok {
		return w
	}
	w := &identityWindow{}
	if prev, ok, _ := s.identities.PeekOrAdd(sourceIdentity, w); ok {
		// Another goroutine added the identity first
		return prev
	}
	return w
}

// Record appends an entry, pruning expired entries for the identity while
// the lock is held.
func (s *MemoryWindowStore) Record(_ context.Context, sourceIdentity, eventType string, timestamp time.Time) error {
	w := s.window(sourceIdentity)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{eventType: eventType, timestamp: timestamp})
	w.entries = pruneEntries(w.entries, s.nowFunc().Add(-s.horizon))

	if len(w.entries) > s.maxEntries {
		dropped := len(w.entries) - s.maxEntries
		w.entries = w.entries[dropped:]
		s.logger.Warnw("Window entry cap reached for identity, dropping oldest",
			"identity", sourceIdentity,
			"dropped", dropped)
	}
	return nil
}

// CountRecent scans all tracked identities.
func (s *MemoryWindowStore) CountRecent(_ context.Context, eventType string, window time.Duration) (map[string]int, error) {
	counts := make(map[string]int)
	cutoff := s.nowFunc().Add(-window)
	horizonCutoff := s.nowFunc().Add(-s.horizon)

	for _, identity := range s.identities.Keys() {
		w, ok := s.identities.Peek(identity)
		if !ok {
			continue
		}
		w.mu.Lock()
		w.entries = pruneEntries(w.entries, horizonCutoff)
		n := countEntries(w.entries, eventType, cutoff)
		w.mu.Unlock()
		if n > 0 {
			counts[identity] = n
		}
	}
	return counts, nil
}

// CountRecentFor counts matching entries for one identity.
func (s *MemoryWindowStore) CountRecentFor(_ context.Context, sourceIdentity, eventType string, window time.Duration) (int, error) {
	w, ok := s.identities.Peek(sourceIdentity)
	if !ok {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = pruneEntries(w.entries, s.nowFunc().Add(-s.horizon))
	return countEntries(w.entries, eventType, s.nowFunc().Add(-window)), nil
}

// pruneEntries drops entries at or older than the cutoff. Entries are not
// guaranteed to arrive in timestamp order, so this filters rather than
// trimming a sorted prefix.
func pruneEntries(entries []windowEntry, cutoff time.Time) []windowEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func countEntries(entries []windowEntry, eventType string, cutoff time.Time) int {
	n := 0
	for _, e := range entries {
		if e.eventType == eventType && e.timestamp.After(cutoff) {
			n++
		}
	}
	return n
}
