package hostcheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/jnlpguard/internal/timedcache"
)

func countingLookup(calls *int32, addrs []string, err error) LookupFunc {
	return func(ctx context.Context, host string) ([]string, error) {
		atomic.AddInt32(calls, 1)
		return addrs, err
	}
}

func TestLookupIsCached(t *testing.T) {
	var calls int32
	r := NewResolver(time.Minute, WithLookup(countingLookup(&calls, []string{"10.0.0.1"}, nil)))

	for i := 0; i < 3; i++ {
		addrs, err := r.Lookup(context.Background(), "Intranet.Example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(addrs) != 1 || addrs[0] != "10.0.0.1" {
			t.Fatalf("unexpected addrs %v", addrs)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 lookup, got %d", calls)
	}
}

func TestFailuresAreCachedUntilIdle(t *testing.T) {
	var calls int32
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache := timedcache.NewWithClock[string, Result](time.Second, clock)
	r := NewResolver(time.Second, WithCache(cache), WithLookup(countingLookup(&calls, nil, errors.New("no such host"))))

	if _, err := r.Lookup(context.Background(), "gone.example"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.Lookup(context.Background(), "gone.example"); err == nil {
		t.Fatal("expected cached error")
	}
	if calls != 1 {
		t.Errorf("expected 1 lookup before expiry, got %d", calls)
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	r.Lookup(context.Background(), "gone.example")
	if calls != 2 {
		t.Errorf("expected a fresh lookup after idle expiry, got %d", calls)
	}
}

func TestConcurrentLookupsShareResolution(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	r := NewResolver(time.Minute, WithLookup(func(ctx context.Context, host string) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"192.0.2.7"}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Lookup(context.Background(), "shared.example")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected 1 shared lookup, got %d", calls)
	}
}

func TestLiteralIPSkipsLookup(t *testing.T) {
	var calls int32
	r := NewResolver(time.Minute, WithLookup(countingLookup(&calls, nil, nil)))
	if got := r.Annotate(context.Background(), "127.0.0.1"); got != "127.0.0.1" {
		t.Errorf("unexpected annotation %q", got)
	}
	if calls != 0 {
		t.Errorf("expected no lookup for literal IP, got %d", calls)
	}
}

func TestAnnotate(t *testing.T) {
	var calls int32
	r := NewResolver(time.Minute, WithLookup(countingLookup(&calls, []string{"10.0.0.1", "10.0.0.2"}, nil)))
	if got := r.Annotate(context.Background(), "db.internal"); got != "db.internal (10.0.0.1, 10.0.0.2)" {
		t.Errorf("unexpected annotation %q", got)
	}

	failing := NewResolver(time.Minute, WithLookup(countingLookup(&calls, nil, errors.New("timeout"))))
	if got := failing.Annotate(context.Background(), "db.internal"); got != "db.internal (unresolved)" {
		t.Errorf("unexpected annotation %q", got)
	}
}
