// Package broker arbitrates authorization requests one at a time.
//
// Any number of goroutines submit requests; a single consumer goroutine
// (Run) takes them off an unbounded FIFO queue in submission order and
// resolves each through automated policy, remembered answers, and finally
// a Presenter. Every request ends in a delivered Decision, including when
// arbitration fails or the broker stops.
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/remember"
	"github.com/ppiankov/jnlpguard/internal/truststore"
)

// Presenter obtains an answer from a human or operator. Present may block
// for as long as the human takes.
type Presenter interface {
	Present(ctx context.Context, req *model.Request) (model.Answer, error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, req *model.Request) (model.Answer, error)

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, req *model.Request) (model.Answer, error) {
	return f(ctx, req)
}

// Config wires a Broker's collaborators. Only Policy is required.
type Config struct {
	Policy     *policy.PolicyConfig
	PolicyHash string

	// Interactive presents to a human at a display. Headless runs the
	// text protocol. When the environment is interactive but Interactive
	// is nil, Headless is used.
	Interactive Presenter
	Headless    Presenter
	// DetectHeadless decides headless mode when the policy leaves it unset.
	DetectHeadless func() bool

	Remember   *remember.Cache // nil keeps answers in memory only
	TrustStore truststore.Sink // receives remembered trusted certificates
	Audit      audit.Recorder  // nil disables the decision log
	Logger     *zap.Logger     // nil discards logs

	// OnRemembered runs on the consumer goroutine for every cache hit,
	// replaying whatever the original answer implied.
	OnRemembered func(req *model.Request, hit remember.CachedDecision)
}

type policySnapshot struct {
	cfg  *policy.PolicyConfig
	hash string
}

// Broker serializes arbitration of concurrently submitted requests.
type Broker struct {
	cfg      Config
	log      *zap.Logger
	remember *remember.Cache
	policy   atomic.Pointer[policySnapshot]

	mu      sync.Mutex
	queue   []*Handle
	notify  chan struct{}
	done    chan struct{} // closed by Stop
	running bool
	stopped bool
}

// New validates the policy and builds a broker. Call Run to start
// arbitrating.
func New(cfg Config) (*Broker, error) {
	if cfg.Policy == nil {
		cfg.Policy = policy.DefaultConfig()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cache := cfg.Remember
	if cache == nil {
		var err error
		cache, err = remember.NewCache(context.Background(), nil)
		if err != nil {
			return nil, err
		}
	}

	b := &Broker{
		cfg:      cfg,
		log:      log,
		remember: cache,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.policy.Store(&policySnapshot{cfg: cfg.Policy, hash: cfg.PolicyHash})
	return b, nil
}

// ReloadPolicy swaps the policy. Requests already being arbitrated keep
// the snapshot they started with.
func (b *Broker) ReloadPolicy(cfg *policy.PolicyConfig, hash string) error {
	if cfg == nil {
		return fmt.Errorf("reload policy: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	b.policy.Store(&policySnapshot{cfg: cfg, hash: hash})
	b.log.Info("policy reloaded", zap.String("policy_hash", hash))
	return nil
}

// Policy returns the current policy and its hash.
func (b *Broker) Policy() (*policy.PolicyConfig, string) {
	snap := b.policy.Load()
	return snap.cfg, snap.hash
}

// Remembered exposes the remember cache for listing and forgetting.
func (b *Broker) Remembered() *remember.Cache { return b.remember }

// SubmitAsync enqueues req and returns immediately. It never blocks and
// never fails; after Stop the request resolves negative at once.
func (b *Broker) SubmitAsync(req *model.Request, opts ...Option) *Handle {
	return b.enqueue(newHandle(req, opts))
}

func (b *Broker) enqueue(h *Handle) *Handle {
	req := h.req
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.finish(h, b.stoppedResult(req))
		return h
	}
	b.queue = append(b.queue, h)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return h
}

// Submit enqueues req and waits for its decision. On the exclusive
// context it does not wait: a WithCallback option is required and
// ErrDeferred is returned once the request is queued.
func (b *Broker) Submit(ctx context.Context, req *model.Request, opts ...Option) (Result, error) {
	h := newHandle(req, opts)
	if IsExclusive(ctx) {
		if h.callback == nil {
			return Result{}, ErrNoCallback
		}
		b.enqueue(h)
		return Result{}, ErrDeferred
	}
	return b.enqueue(h).Wait(ctx)
}

// Pending returns the number of queued requests not yet taken by Run.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run consumes the queue until ctx ends or Stop is called, then stops
// the broker and resolves everything still queued as negative. Only one
// Run may be active.
func (b *Broker) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("broker already running")
	}
	if b.stopped {
		b.mu.Unlock()
		return fmt.Errorf("broker stopped")
	}
	b.running = true
	b.mu.Unlock()

	b.log.Debug("broker started")
	defer b.Stop()

	for {
		h, ok := b.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-b.done:
				return nil
			case <-b.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			b.finish(h, b.stoppedResult(h.req))
			return nil
		}
		b.process(ctx, h)
	}
}

// Stop refuses new work, resolves queued requests negative and makes Run
// return. It is safe to call more than once.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)
	drained := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, h := range drained {
		b.finish(h, b.stoppedResult(h.req))
	}
	b.log.Debug("broker stopped", zap.Int("drained", len(drained)))
}

func (b *Broker) next() (*Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	h := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return h, true
}

func (b *Broker) stoppedResult(req *model.Request) Result {
	return Result{
		RequestID:  req.ID(),
		Kind:       req.Kind(),
		Decision:   model.DefaultNegative(req.Kind()),
		ResolvedBy: model.SourceStopped,
		Reason:     "broker stopped",
	}
}

// deliver hands r to the caller. A panicking callback is
// contained so the consumer loop keeps running.
func (b *Broker) deliver(h *Handle, r Result) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("delivery callback panicked",
				zap.String("request_id", r.RequestID),
				zap.Any("panic", p))
		}
	}()
	h.deliver(r)
}
