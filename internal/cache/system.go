package cache

import (
	"container/list"
	"sync"
	"time"
)

// systemEntry is one bounded-tier entry. Created on first set, mutated on
// every access, destroyed on eviction or invalidation.
type systemEntry struct {
	key        string
	value      any
	modTime    time.Time // source mtime recorded at set
	lastAccess time.Time
	hits       int64
}

// systemTier is the bounded LRU tier with mtime freshness validation.
//
// The list front is most-recently-used; eviction takes the back. Because a
// plain set pushes to the front, insertion order doubles as the LRU
// tie-breaker. Freshness is exact mtime equality at whatever resolution the
// host filesystem reports — an implementation may tighten this to content
// hashing without changing the contract.
type systemTier struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // of *systemEntry
	index    map[string]*list.Element

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
}

func newSystemTier(capacity int) *systemTier {
	return &systemTier{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// get returns the cached value, validating freshness when modTime is
// non-zero. A stale entry is dropped inside the same critical section so the
// check-and-drop appears atomic to concurrent observers.
func (t *systemTier) get(key string, modTime time.Time) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[key]
	if !ok {
		t.misses++
		return nil, false
	}
	entry := el.Value.(*systemEntry)

	if !modTime.IsZero() && !modTime.Equal(entry.modTime) {
		t.order.Remove(el)
		delete(t.index, key)
		t.invalidations++
		t.misses++
		return nil, false
	}

	entry.lastAccess = time.Now()
	entry.hits++
	t.order.MoveToFront(el)
	t.hits++
	return entry.value, true
}

// set inserts or replaces an entry, evicting the least-recently-used entry
// first when the tier is full.
func (t *systemTier) set(key string, value any, modTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if el, ok := t.index[key]; ok {
		entry := el.Value.(*systemEntry)
		entry.value = value
		entry.modTime = modTime
		entry.lastAccess = now
		t.order.MoveToFront(el)
		return
	}

	if t.order.Len() >= t.capacity {
		victim := t.order.Back()
		if victim != nil {
			t.order.Remove(victim)
			delete(t.index, victim.Value.(*systemEntry).key)
			t.evictions++
		}
	}

	t.index[key] = t.order.PushFront(&systemEntry{
		key:        key,
		value:      value,
		modTime:    modTime,
		lastAccess: now,
	})
}

// has reports presence without touching counters or LRU order.
func (t *systemTier) has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[key]
	return ok
}

func (t *systemTier) clear(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for el := t.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*systemEntry)
		if matchKey(pattern, entry.key) {
			t.order.Remove(el)
			delete(t.index, entry.key)
			removed++
		}
		el = next
	}
	return removed
}

func (t *systemTier) stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Size:          t.order.Len(),
		Capacity:      t.capacity,
		Hits:          t.hits,
		Misses:        t.misses,
		HitRate:       hitRate(t.hits, t.misses),
		Evictions:     t.evictions,
		Invalidations: t.invalidations,
	}
}
