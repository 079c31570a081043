package cache

import (
	"sync"
	"time"
)

// PinnedEntry is one user-controlled cache entry. Created only by an
// explicit pin, never auto-evicted, destroyed only by explicit removal.
type PinnedEntry struct {
	Alias       string
	Value       any
	OriginPath  string
	LogicalType string
	LoadedAt    time.Time
}

// pinnedTier is the unbounded user-controlled tier. An alias maps to at most
// one entry; re-pinning replaces it.
type pinnedTier struct {
	mu      sync.Mutex
	entries map[string]PinnedEntry

	hits   int64
	misses int64
}

func newPinnedTier() *pinnedTier {
	return &pinnedTier{entries: make(map[string]PinnedEntry)}
}

func (t *pinnedTier) get(alias string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[alias]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	return entry.Value, true
}

// Entry returns the full pinned entry including its origin metadata.
func (t *pinnedTier) entry(alias string) (PinnedEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[alias]
	return entry, ok
}

func (t *pinnedTier) set(alias string, entry PinnedEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[alias] = entry
}

func (t *pinnedTier) has(alias string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[alias]
	return ok
}

func (t *pinnedTier) clear(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for alias := range t.entries {
		if matchKey(pattern, alias) {
			delete(t.entries, alias)
			removed++
		}
	}
	return removed
}

func (t *pinnedTier) stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Size:    len(t.entries),
		Hits:    t.hits,
		Misses:  t.misses,
		HitRate: hitRate(t.hits, t.misses),
	}
}
