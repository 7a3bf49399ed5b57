package ratelimit

import (
	"sync"
	"time"
)

// pruneAbove is the number of tracked keys past which expired windows
// are dropped.
const pruneAbove = 1024

type window struct {
	start time.Time
	count int
}

// Tracker counts submissions per key in fixed windows. It is safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[string]*window)}
}

// Snapshot reads the current count for key. If the window has expired,
// the counter and the window start are reset.
func (t *Tracker) Snapshot(key string, span time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(key, span, now).count
}

// Increment records one submission for key.
func (t *Tracker) Increment(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[key]
	if !ok {
		w = &window{start: now}
		t.windows[key] = w
	}
	w.count++
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

func (t *Tracker) snapshot(key string, span time.Duration, now time.Time) *window {
	w, ok := t.windows[key]
	if !ok || now.Sub(w.start) >= span {
		w = &window{start: now}
		t.windows[key] = w
	}
	return w
}

func (t *Tracker) prune(span time.Duration, now time.Time) {
	if len(t.windows) <= pruneAbove {
		return
	}
	for k, w := range t.windows {
		if now.Sub(w.start) >= span {
			delete(t.windows, k)
		}
	}
}
