package ratelimit

import (
	"fmt"
	"time"
)

// Wildcard is the Limits key that applies to every decision class
// without its own entry.
const Wildcard = "*"

// Limit bounds how many requests one caller may submit per window.
// Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Enabled reports whether the limit restricts anything.
func (l *Limit) Enabled() bool {
	return l != nil && l.MaxRequests > 0 && l.Window > 0
}

// Limits maps decision classes to their limits.
type Limits map[string]*Limit

// HasLimits returns true if any decision class has a configured limit.
func (c Limits) HasLimits() bool {
	for _, l := range c {
		if l.Enabled() {
			return true
		}
	}
	return false
}

// For returns the limit for kind, falling back to the wildcard entry.
func (c Limits) For(kind string) *Limit {
	if l, ok := c[kind]; ok {
		return l
	}
	return c[Wildcard]
}

// Validate rejects negative counts and windows.
func (c Limits) Validate() error {
	for kind, l := range c {
		if l == nil {
			continue
		}
		if l.MaxRequests < 0 || l.Window < 0 {
			return fmt.Errorf("rate limit %q: max_requests and window must not be negative", kind)
		}
	}
	return nil
}
