// Package timedcache is a concurrent map whose entries go stale after a
// period without reads. Staleness is enforced only by Get: ContainsKey,
// Len and Values report the underlying store as is.
package timedcache

import (
	"sync"
	"time"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = 10 * time.Second

type entry[V any] struct {
	value   V
	touched time.Time
}

// Map is safe for concurrent use.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]*entry[V]
}

// New returns an empty map using the wall clock.
func New[K comparable, V any](ttl time.Duration) *Map[K, V] {
	return NewWithClock[K, V](ttl, time.Now)
}

// NewWithClock returns an empty map reading time from now.
func NewWithClock[K comparable, V any](ttl time.Duration, now func() time.Time) *Map[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Map[K, V]{ttl: ttl, now: now, entries: make(map[K]*entry[V])}
}

// TTL returns the idle period after which an entry is stale.
func (m *Map[K, V]) TTL() time.Duration { return m.ttl }

// Put stores v under k and marks it fresh.
func (m *Map[K, V]) Put(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = &entry[V]{value: v, touched: m.now()}
}

// Get returns the value for k. A stale entry is removed and reported
// absent; a fresh one has its idle timer reset.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	e, ok := m.entries[k]
	if !ok {
		return zero, false
	}
	now := m.now()
	if now.Sub(e.touched) > m.ttl {
		delete(m.entries, k)
		return zero, false
	}
	e.touched = now
	return e.value, true
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
}

// ContainsKey reports whether k is stored, stale or not.
func (m *Map[K, V]) ContainsKey(k K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[k]
	return ok
}

// Len returns the number of stored entries, stale ones included.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Values returns every stored value, stale ones included, in no order.
func (m *Map[K, V]) Values() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]V, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.value)
	}
	return out
}
