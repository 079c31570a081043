// Package cache implements the runtime's three-tier resource cache.
//
// One orchestrator routes get/set/has/clear/stats to three tiers behind a
// single interface:
//
//   - System: bounded, LRU-evicted, freshness-validated by source mtime.
//   - Pinned: unbounded, user-controlled, never auto-evicted.
//   - Connection: live storage handles plus per-run transaction state.
//
// Each tier guards its state with one mutex; eviction and the
// freshness-check-and-drop on get are atomic to concurrent observers.
// Tier invariants are enforced here; workflow semantics live above.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
)

// Tier selects one of the three cache categories.
type Tier int

const (
	TierSystem Tier = iota + 1
	TierPinned
	TierConnection
)

// String returns the tier's canonical name.
func (t Tier) String() string {
	switch t {
	case TierSystem:
		return "system"
	case TierPinned:
		return "pinned"
	case TierConnection:
		return "connection"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a tier name to its selector.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "system":
		return TierSystem, nil
	case "pinned":
		return TierPinned, nil
	case "connection":
		return TierConnection, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// ErrUnknownTier is returned by every operation given a tier selector that
// does not exist. This is a programming error; callers must not retry.
var ErrUnknownTier = errors.New("cache: unknown tier")

// Stats is a read-only snapshot of one tier's counters.
// Capacity is zero for the unbounded tiers.
type Stats struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity,omitempty"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// matchKey implements clear's pattern semantics: glob when the pattern
// contains metacharacters, substring otherwise. Empty matches everything.
func matchKey(pattern, key string) bool {
	if pattern == "" {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := path.Match(pattern, key)
		return err == nil && ok
	}
	return strings.Contains(key, pattern)
}

// DefaultCapacity bounds the system tier when the caller does not choose.
const DefaultCapacity = 128

// Cache is the tier orchestrator. Construct with New; the zero value is not
// usable.
type Cache struct {
	system *systemTier
	pinned *pinnedTier
	conns  *ConnTier
}

// New creates a cache whose system tier holds at most capacity entries
// (DefaultCapacity if capacity <= 0). A nil logger falls back to
// slog.Default(); the logger is only used by the connection tier, which must
// log rather than raise individual close failures during clear.
func New(capacity int, logger *slog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		system: newSystemTier(capacity),
		pinned: newPinnedTier(),
		conns:  newConnTier(logger),
	}
}

// Connections exposes the connection tier's lifecycle surface (acquire,
// register, release-owned) to the step orchestrator. Generic get/has/clear
// still route through the orchestrator methods.
func (c *Cache) Connections() *ConnTier {
	return c.conns
}

// Get returns the value under key in the given tier.
//
// On the system tier a non-zero modTime is validated against the mtime
// recorded at set: a mismatch is a miss, drops the stale entry, and counts
// an invalidation. The pinned and connection tiers ignore modTime; presence
// alone is a hit. A successful system-tier get refreshes LRU order.
func (c *Cache) Get(tier Tier, key string, modTime time.Time) (any, bool, error) {
	switch tier {
	case TierSystem:
		v, ok := c.system.get(key, modTime)
		return v, ok, nil
	case TierPinned:
		v, ok := c.pinned.get(key)
		return v, ok, nil
	case TierConnection:
		v, ok := c.conns.get(key)
		return v, ok, nil
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}
}

// Set stores value under key in the given tier.
//
// System tier: modTime records the source freshness hint; inserting past
// capacity evicts the least-recently-used entry first (ties broken by
// insertion order). Pinned tier: replaces any entry under the same key,
// unbounded; use Pin to attach origin metadata. Connection tier: value must
// be a *ConnEntry.
func (c *Cache) Set(tier Tier, key string, value any, modTime time.Time) error {
	switch tier {
	case TierSystem:
		c.system.set(key, value, modTime)
		return nil
	case TierPinned:
		c.pinned.set(key, PinnedEntry{Alias: key, Value: value, LoadedAt: time.Now()})
		return nil
	case TierConnection:
		entry, ok := value.(*ConnEntry)
		if !ok {
			return fmt.Errorf("cache: connection tier requires *ConnEntry, got %T", value)
		}
		return c.conns.Register(entry)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}
}

// Pin stores a pinned-tier entry with its origin metadata. Re-pinning an
// alias replaces the previous entry.
func (c *Cache) Pin(alias string, value any, originPath, logicalType string) {
	c.pinned.set(alias, PinnedEntry{
		Alias:       alias,
		Value:       value,
		OriginPath:  originPath,
		LogicalType: logicalType,
		LoadedAt:    time.Now(),
	})
}

// Pinned returns the full pinned-tier entry, including origin metadata,
// without touching counters.
func (c *Cache) Pinned(alias string) (PinnedEntry, bool) {
	return c.pinned.entry(alias)
}

// Has reports presence without mutating state or counters in any tier.
func (c *Cache) Has(tier Tier, key string) (bool, error) {
	switch tier {
	case TierSystem:
		return c.system.has(key), nil
	case TierPinned:
		return c.pinned.has(key), nil
	case TierConnection:
		return c.conns.has(key), nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}
}

// Clear removes entries whose key matches pattern (substring, or glob when
// the pattern contains metacharacters; empty clears the whole tier) and
// returns how many were removed.
//
// Clearing the connection tier closes every matched live handle first.
// Individual close failures are logged, never raised, so cleanup always
// completes; clearing an already-empty tier returns zero.
func (c *Cache) Clear(tier Tier, pattern string) (int, error) {
	switch tier {
	case TierSystem:
		return c.system.clear(pattern), nil
	case TierPinned:
		return c.pinned.clear(pattern), nil
	case TierConnection:
		return c.conns.Clear(pattern), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}
}

// Stats returns a read-only snapshot of the tier's counters.
func (c *Cache) Stats(tier Tier) (Stats, error) {
	switch tier {
	case TierSystem:
		return c.system.stats(), nil
	case TierPinned:
		return c.pinned.stats(), nil
	case TierConnection:
		return c.conns.stats(), nil
	default:
		return Stats{}, fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}
}
