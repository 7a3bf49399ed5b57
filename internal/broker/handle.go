package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/ppiankov/jnlpguard/internal/model"
)

var (
	// ErrDeferred is returned by Submit on the exclusive context. The
	// answer arrives through the registered callback instead.
	ErrDeferred = errors.New("decision deferred to callback")

	// ErrNoCallback is returned when the exclusive context submits without
	// a callback. It must never block, so it has no way to get an answer.
	ErrNoCallback = errors.New("exclusive context requires a callback")
)

// Result is a delivered decision.
type Result struct {
	RequestID  string
	Kind       model.Kind
	Decision   model.Decision
	Remember   model.RememberScope
	ResolvedBy model.Source
	Reason     string
}

// Granted reports whether the decision allows the operation.
func (r Result) Granted() bool { return r.Decision != nil && r.Decision.Positive() }

type exclusiveKey struct{}

// WithExclusive marks ctx as the one execution context that must never
// block, such as a UI event loop. Submit from it requires a callback.
func WithExclusive(ctx context.Context) context.Context {
	return context.WithValue(ctx, exclusiveKey{}, true)
}

// IsExclusive reports whether ctx was marked by WithExclusive.
func IsExclusive(ctx context.Context) bool {
	v, _ := ctx.Value(exclusiveKey{}).(bool)
	return v
}

// Option configures a single submission.
type Option func(*Handle)

// WithCallback delivers the result to fn on the consumer goroutine.
func WithCallback(fn func(Result)) Option {
	return func(h *Handle) { h.callback = fn }
}

// WithRelease registers a resource the caller holds open until the
// decision is delivered. fn runs exactly once, on delivery.
func WithRelease(fn func()) Option {
	return func(h *Handle) { h.release = fn }
}

// Handle tracks one submitted request until delivery.
type Handle struct {
	req      *model.Request
	done     chan struct{}
	once     sync.Once
	result   Result
	callback func(Result)
	release  func()
	released sync.Once
}

func newHandle(req *model.Request, opts []Option) *Handle {
	h := &Handle{req: req, done: make(chan struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Request returns the submitted request.
func (h *Handle) Request() *model.Request { return h.req }

// Done is closed once the decision is delivered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the delivered decision, or false before delivery.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until delivery or until ctx ends. A caller that gives up
// does not cancel arbitration; the request still resolves and releases.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// deliver publishes r once. Later calls are ignored and report false.
func (h *Handle) deliver(r Result) bool {
	delivered := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		delivered = true
	})
	if !delivered {
		return false
	}
	h.dispose()
	if h.callback != nil {
		h.callback(r)
	}
	return true
}

func (h *Handle) dispose() {
	if h.release == nil {
		return
	}
	h.released.Do(h.release)
}
