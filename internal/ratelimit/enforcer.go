package ratelimit

import (
	"fmt"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Kind     string
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the rate limit.
func Check(count int, limit *Limit) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

// Evaluate looks up the limit for kind and checks whether caller has used
// it up. A submission within the limit is counted.
//
// Lookup order: limits[kind] → limits["*"] → skip.
func (t *Tracker) Evaluate(caller, kind string, limits Limits, now time.Time) CheckResult {
	limit := limits.For(kind)
	if !limit.Enabled() {
		return CheckResult{}
	}

	key := caller + "|" + kind
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(limit.Window, now)
	w := t.snapshot(key, limit.Window, now)
	result := Check(w.count, limit)
	if result.Exceeded {
		result.Kind = kind
		return result
	}
	w.count++
	return CheckResult{}
}
