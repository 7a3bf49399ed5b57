// Package hostcheck resolves host names for prompt annotations. Results,
// failures included, are cached for a short idle period so repeated
// prompts about the same host do not hit DNS each time.
package hostcheck

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/jnlpguard/internal/timedcache"
)

// LookupFunc resolves a host to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Result is one cached resolution.
type Result struct {
	Addrs []string
	Err   error
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cache   *timedcache.Map[string, Result]
	group   singleflight.Group
	sem     *semaphore.Weighted
	lookup  LookupFunc
	timeout time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the DNS lookup.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithCache replaces the result cache, mainly to inject a clock in tests.
func WithCache(c *timedcache.Map[string, Result]) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithConcurrency bounds simultaneous lookups for distinct hosts.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n < 1 {
			n = 1
		}
		r.sem = semaphore.NewWeighted(int64(n))
	}
}

// NewResolver returns a resolver whose cache entries go stale after ttl
// without reads.
func NewResolver(ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   timedcache.New[string, Result](ttl),
		sem:     semaphore.NewWeighted(4),
		lookup:  net.DefaultResolver.LookupHost,
		timeout: 3 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Lookup returns the host's addresses. Concurrent lookups for the same host
// share one resolution.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return nil, fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []string{ip.String()}, nil
	}
	if res, ok := r.cache.Get(host); ok {
		return res.Addrs, res.Err
	}

	v, _, _ := r.group.Do(host, func() (interface{}, error) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return Result{Err: err}, nil
		}
		defer r.sem.Release(1)

		lctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		addrs, err := r.lookup(lctx, host)
		if err != nil {
			err = fmt.Errorf("resolve %s: %w", host, err)
		}
		res := Result{Addrs: addrs, Err: err}
		if ctx.Err() == nil {
			r.cache.Put(host, res)
		}
		return res, nil
	})
	res := v.(Result)
	return res.Addrs, res.Err
}

// Annotate renders host with its addresses for prompt text.
func (r *Resolver) Annotate(ctx context.Context, host string) string {
	addrs, err := r.Lookup(ctx, host)
	if err != nil {
		return host + " (unresolved)"
	}
	if len(addrs) == 1 && addrs[0] == strings.Trim(host, "[]") {
		return host
	}
	return host + " (" + strings.Join(addrs, ", ") + ")"
}
