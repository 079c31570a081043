package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/storage"
)

// ErrAliasBusy is returned when a run requests a live alias owned by a
// different, still-running workflow. Concurrent runs must use disjoint
// aliases; interleaving two transactions on one handle is never allowed.
var ErrAliasBusy = errors.New("cache: connection alias in use by another run")

// ConnEntry is one live storage connection registered under a logical alias.
//
// The handle is exclusively owned by the tier for the duration of the run
// identified by Owner; it never outlives that run. At most one live entry
// exists per alias at a time.
type ConnEntry struct {
	Alias    string
	Handle   *storage.Handle
	TxActive bool
	OpenedAt time.Time
	Owner    string // run token of the workflow that opened the entry
}

// ConnTier holds live, non-serializable storage handles plus transaction
// state. Safe for concurrent access from multiple runs using disjoint
// aliases.
type ConnTier struct {
	mu      sync.Mutex
	entries map[string]*ConnEntry
	logger  *slog.Logger

	hits   int64
	misses int64
}

func newConnTier(logger *slog.Logger) *ConnTier {
	return &ConnTier{
		entries: make(map[string]*ConnEntry),
		logger:  logger,
	}
}

// get is the orchestrator-facing presence lookup; the entry itself is
// returned so a same-run caller can reuse the handle.
func (t *ConnTier) get(alias string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[alias]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	return entry, true
}

// Acquire returns the live entry for alias if the requesting run owns it.
// A missing alias is (nil, nil): the caller should open and Register. A live
// alias owned by another run fails fast with ErrAliasBusy.
func (t *ConnTier) Acquire(alias, owner string) (*ConnEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[alias]
	if !ok {
		t.misses++
		return nil, nil
	}
	if entry.Owner != owner {
		return nil, fmt.Errorf("%w: alias %q owned by run %s", ErrAliasBusy, alias, entry.Owner)
	}
	t.hits++
	return entry, nil
}

// Register inserts a freshly opened entry. At most one live handle may exist
// per alias; a duplicate registration fails with ErrAliasBusy.
func (t *ConnTier) Register(entry *ConnEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[entry.Alias]; ok {
		return fmt.Errorf("%w: alias %q owned by run %s", ErrAliasBusy, entry.Alias, existing.Owner)
	}
	if entry.OpenedAt.IsZero() {
		entry.OpenedAt = time.Now()
	}
	t.entries[entry.Alias] = entry
	return nil
}

// ReleaseOwned closes and removes every entry owned by the given run,
// returning how many were released. Close failures are logged, never
// raised, so one bad handle cannot block cleanup of the rest. Releasing a
// run that owns nothing is a no-op.
func (t *ConnTier) ReleaseOwned(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for alias, entry := range t.entries {
		if entry.Owner != owner {
			continue
		}
		if err := entry.Handle.Close(); err != nil {
			t.logger.Error("closing connection handle", "alias", alias, "error", err)
		}
		delete(t.entries, alias)
		removed++
	}
	return removed
}

// Clear closes and removes every entry whose alias matches pattern.
// Individual close failures are logged, never raised. Clearing an empty
// tier returns zero.
func (t *ConnTier) Clear(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for alias, entry := range t.entries {
		if !matchKey(pattern, alias) {
			continue
		}
		if err := entry.Handle.Close(); err != nil {
			t.logger.Error("closing connection handle", "alias", alias, "error", err)
		}
		delete(t.entries, alias)
		removed++
	}
	return removed
}

func (t *ConnTier) has(alias string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[alias]
	return ok
}

func (t *ConnTier) stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Size:    len(t.entries),
		Hits:    t.hits,
		Misses:  t.misses,
		HitRate: hitRate(t.hits, t.misses),
	}
}
