package broker

import (
	"context"
	"crypto/x509"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/remember"
)

var appX = &model.Subject{
	Title:    "Payroll",
	Location: "https://apps.example.com/payroll/launch.jnlp",
	Codebase: "https://apps.example.com/payroll/",
}

var appY = &model.Subject{
	Title:    "Timesheet",
	Location: "https://apps.example.com/payroll/timesheet.jnlp",
	Codebase: "https://apps.example.com/payroll/",
}

// scripted answers prompts in order and counts how often it was asked.
type scripted struct {
	mu      sync.Mutex
	answers []model.Answer
	calls   int
	err     error
}

func (s *scripted) Present(ctx context.Context, req *model.Request) (model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return model.Answer{}, s.err
	}
	if len(s.answers) == 0 {
		return model.Answer{Decision: model.DefaultNegative(req.Kind())}, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memTrust struct {
	mu    sync.Mutex
	certs []*x509.Certificate
}

func (m *memTrust) Add(c *x509.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs = append(m.certs, c)
	return nil
}

func (m *memTrust) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.certs)
}

func headlessPolicy() *policy.PolicyConfig {
	cfg := policy.DefaultConfig()
	yes := true
	cfg.Headless = &yes
	return cfg
}

func startBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	if cfg.Policy == nil {
		cfg.Policy = headlessPolicy()
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func submit(t *testing.T, b *Broker, req *model.Request) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := b.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return r
}

func TestTrustAllSkipsCacheAndPresenter(t *testing.T) {
	p := &scripted{}
	cfg := headlessPolicy()
	cfg.TrustAll = true
	b := startBroker(t, Config{Policy: cfg, Headless: p})

	r := submit(t, b, model.NewRequest(model.KindNetworkConnect, appX, model.Params{Host: "db.example.com", Port: 5432}))
	if !r.Granted() || r.ResolvedBy != model.SourceTrustAll {
		t.Errorf("expected trust-all grant, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if p.Calls() != 0 {
		t.Errorf("expected no prompts, got %d", p.Calls())
	}
}

func TestTrustNoneUsesKindNegative(t *testing.T) {
	cfg := headlessPolicy()
	cfg.TrustNone = true
	b := startBroker(t, Config{Policy: cfg, Headless: &scripted{}})

	r := submit(t, b, model.NewRequest(model.KindCertificateTrust, appX, model.Params{}))
	if r.Decision.Encode() != "SANDBOX" {
		t.Errorf("expected SANDBOX for certificate trust, got %s", r.Decision.Encode())
	}
}

func TestPromptDisabled(t *testing.T) {
	p := &scripted{}
	cfg := headlessPolicy()
	cfg.PromptEnabled = false
	b := startBroker(t, Config{Policy: cfg, Headless: p})

	r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if r.Granted() || r.ResolvedBy != model.SourcePromptDisabled {
		t.Errorf("expected prompt-disabled refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if p.Calls() != 0 {
		t.Errorf("expected no prompts, got %d", p.Calls())
	}
}

func TestApplicationScopedNoDoesNotLeak(t *testing.T) {
	p := &scripted{answers: []model.Answer{
		{Decision: model.YesNo{Choice: model.ChoiceNo}, Remember: model.RememberApplication},
		{Decision: model.YesNo{Choice: model.ChoiceYes}},
	}}
	b := startBroker(t, Config{Headless: p})

	first := submit(t, b, model.NewRequest(model.KindFileRead, appX, model.Params{Path: "/etc/hosts"}))
	if first.Granted() || first.ResolvedBy != model.SourceHeadless {
		t.Fatalf("expected headless NO, got %s by %s", first.Decision, first.ResolvedBy)
	}

	second := submit(t, b, model.NewRequest(model.KindFileRead, appX, model.Params{Path: "/etc/passwd"}))
	if second.Granted() || second.ResolvedBy != model.SourceRemembered {
		t.Errorf("expected remembered NO, got %s by %s", second.Decision, second.ResolvedBy)
	}
	if p.Calls() != 1 {
		t.Errorf("expected 1 prompt after remembered answer, got %d", p.Calls())
	}

	other := submit(t, b, model.NewRequest(model.KindFileRead, appY, model.Params{Path: "/etc/hosts"}))
	if other.ResolvedBy != model.SourceHeadless || !other.Granted() {
		t.Errorf("expected same-origin application to be prompted, got %s by %s", other.Decision, other.ResolvedBy)
	}

	// a different kind for the same application is still asked
	submit(t, b, model.NewRequest(model.KindFileWrite, appX, model.Params{Path: "/tmp/x"}))
	if p.Calls() != 3 {
		t.Errorf("expected 3 prompts, got %d", p.Calls())
	}
}

func TestOriginScopedAnswerCoversOrigin(t *testing.T) {
	p := &scripted{answers: []model.Answer{
		{Decision: model.YesNo{Choice: model.ChoiceYes}, Remember: model.RememberOrigin},
	}}
	hits := 0
	b := startBroker(t, Config{Headless: p, OnRemembered: func(req *model.Request, hit remember.CachedDecision) {
		hits++
		if hit.Scope != model.RememberOrigin {
			t.Errorf("expected origin hit, got %s", hit.Scope)
		}
	}})

	submit(t, b, model.NewRequest(model.KindClipboardRead, appX, model.Params{}))
	r := submit(t, b, model.NewRequest(model.KindClipboardRead, appY, model.Params{}))
	if !r.Granted() || r.ResolvedBy != model.SourceRemembered {
		t.Errorf("expected remembered grant for same origin, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if hits != 1 {
		t.Errorf("expected OnRemembered once, got %d", hits)
	}
}

func TestCacheReflectsOnlyRememberedAnswers(t *testing.T) {
	p := &scripted{answers: []model.Answer{
		{Decision: model.YesNo{Choice: model.ChoiceYes}},
		{Decision: model.YesNo{Choice: model.ChoiceNo}, Remember: model.RememberApplication},
		{Decision: model.YesNo{Choice: model.ChoiceYes}},
	}}
	b := startBroker(t, Config{Headless: p})

	submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	submit(t, b, model.NewRequest(model.KindFileRead, appX, model.Params{}))
	submit(t, b, model.NewRequest(model.KindClipboardWrite, appX, model.Params{}))

	entries := b.Remembered().List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 remembered entry, got %d", len(entries))
	}
	if entries[0].Kind != model.KindFileRead || entries[0].Value != "NO" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestConcurrentSubmittersAllDelivered(t *testing.T) {
	var inFlight, maxInFlight int32
	p := PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return model.Answer{Decision: req.DefaultPositive()}, nil
	})
	b := startBroker(t, Config{Headless: p})

	const n = 50
	kinds := []model.Kind{model.KindFileRead, model.KindClientCertSelect, model.KindShortcutCreate, model.KindMissingPermissions}
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := model.NewRequest(kinds[i%len(kinds)], appX, model.Params{})
			results[i], errs[i] = b.Submit(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		r := results[i]
		if r.Decision == nil || r.Decision.Shape() != r.Kind.Shape() {
			t.Errorf("result %d: invalid decision %v for %s", i, r.Decision, r.Kind)
		}
	}
	if maxInFlight != 1 {
		t.Errorf("expected one arbitration at a time, saw %d", maxInFlight)
	}
	if len(b.Remembered().List()) != 0 {
		t.Error("expected nothing remembered")
	}
}

func TestFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	p := PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		mu.Lock()
		order = append(order, req.ID())
		mu.Unlock()
		return model.Answer{Decision: model.DefaultNegative(req.Kind())}, nil
	})
	b, err := New(Config{Policy: headlessPolicy(), Headless: p})
	if err != nil {
		t.Fatal(err)
	}

	var handles []*Handle
	for i := 0; i < 10; i++ {
		handles = append(handles, b.SubmitAsync(model.NewRequest(model.KindPrinter, appX, model.Params{})))
	}
	if b.Pending() != 10 {
		t.Fatalf("expected 10 pending before Run, got %d", b.Pending())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	for i, h := range handles {
		if order[i] != h.Request().ID() {
			t.Fatalf("expected submission order at %d", i)
		}
	}
}

func TestFailureResolvesNegativeAndLoopContinues(t *testing.T) {
	calls := 0
	p := PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		calls++
		switch calls {
		case 1:
			panic("presenter exploded")
		case 2:
			return model.Answer{}, errors.New("display gone")
		case 3:
			return model.Answer{Decision: model.CertIndex{Index: 2}}, nil // wrong shape
		}
		return model.Answer{Decision: model.YesNo{Choice: model.ChoiceYes}}, nil
	})
	b := startBroker(t, Config{Headless: p})

	for i := 0; i < 3; i++ {
		r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
		if r.Granted() || r.ResolvedBy != model.SourceFailure {
			t.Errorf("call %d: expected failure refusal, got %s by %s", i+1, r.Decision, r.ResolvedBy)
		}
	}
	r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if !r.Granted() {
		t.Errorf("expected broker to keep serving, got %s by %s", r.Decision, r.ResolvedBy)
	}
}

func TestUnknownKindFails(t *testing.T) {
	b := startBroker(t, Config{Headless: &scripted{}})
	r := submit(t, b, model.NewRequest(model.Kind("teleport"), appX, model.Params{}))
	if r.ResolvedBy != model.SourceFailure || r.Granted() {
		t.Errorf("expected failure refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
}

func TestNoPresenterFailsClosed(t *testing.T) {
	b := startBroker(t, Config{})
	r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if r.Granted() || r.ResolvedBy != model.SourceFailure {
		t.Errorf("expected failure refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
}

func TestInteractivePreferredWhenNotHeadless(t *testing.T) {
	interactive := &scripted{}
	headless := &scripted{}
	cfg := policy.DefaultConfig()
	b := startBroker(t, Config{
		Policy:         cfg,
		Interactive:    interactive,
		Headless:       headless,
		DetectHeadless: func() bool { return false },
	})

	r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if r.ResolvedBy != model.SourceInteractive {
		t.Errorf("expected interactive, got %s", r.ResolvedBy)
	}
	if interactive.Calls() != 1 || headless.Calls() != 0 {
		t.Errorf("expected interactive prompt only, got %d/%d", interactive.Calls(), headless.Calls())
	}
}

func TestExclusiveContextUsesCallback(t *testing.T) {
	b := startBroker(t, Config{Headless: &scripted{answers: []model.Answer{{Decision: model.YesNo{Choice: model.ChoiceYes}}}}})
	ctx := WithExclusive(context.Background())

	req := model.NewRequest(model.KindClipboardWrite, appX, model.Params{})
	if _, err := b.Submit(ctx, req); !errors.Is(err, ErrNoCallback) {
		t.Fatalf("expected ErrNoCallback, got %v", err)
	}

	got := make(chan Result, 1)
	var released int32
	_, err := b.Submit(ctx, req,
		WithCallback(func(r Result) { got <- r }),
		WithRelease(func() { atomic.AddInt32(&released, 1) }))
	if !errors.Is(err, ErrDeferred) {
		t.Fatalf("expected ErrDeferred, got %v", err)
	}

	select {
	case r := <-got:
		if !r.Granted() || r.RequestID != req.ID() {
			t.Errorf("unexpected callback result %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	if atomic.LoadInt32(&released) != 1 {
		t.Errorf("expected release once, got %d", released)
	}
}

func TestHandleDeliversOnce(t *testing.T) {
	var released, called int
	h := newHandle(model.NewRequest(model.KindPrinter, appX, model.Params{}), []Option{
		WithRelease(func() { released++ }),
		WithCallback(func(Result) { called++ }),
	})
	if _, ok := h.Result(); ok {
		t.Fatal("expected no result before delivery")
	}
	if !h.deliver(Result{Decision: model.YesNo{Choice: model.ChoiceYes}}) {
		t.Fatal("expected first delivery to succeed")
	}
	if h.deliver(Result{Decision: model.YesNo{Choice: model.ChoiceNo}}) {
		t.Error("expected second delivery to be ignored")
	}
	r, ok := h.Result()
	if !ok || !r.Granted() {
		t.Errorf("expected first result kept, got %+v", r)
	}
	if released != 1 || called != 1 {
		t.Errorf("expected release and callback once, got %d/%d", released, called)
	}
}

func TestWaitHonoursContextButStillReleases(t *testing.T) {
	block := make(chan struct{})
	p := PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		<-block
		return model.Answer{Decision: model.YesNo{Choice: model.ChoiceYes}}, nil
	})
	b := startBroker(t, Config{Headless: p})

	released := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Submit(ctx, model.NewRequest(model.KindPrinter, appX, model.Params{}),
		WithRelease(func() { close(released) }))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(block)
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("resource never released")
	}
}

func TestStopDrainsQueueNegative(t *testing.T) {
	b, err := New(Config{Policy: headlessPolicy(), Headless: &scripted{}})
	if err != nil {
		t.Fatal(err)
	}
	h := b.SubmitAsync(model.NewRequest(model.KindMissingPermissions, appX, model.Params{}))
	b.Stop()

	r, ok := h.Result()
	if !ok {
		t.Fatal("expected queued request delivered on stop")
	}
	if r.ResolvedBy != model.SourceStopped || r.Decision.Encode() != "CANCEL" {
		t.Errorf("expected stopped CANCEL, got %s by %s", r.Decision.Encode(), r.ResolvedBy)
	}

	late := b.SubmitAsync(model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if r, ok := late.Result(); !ok || r.ResolvedBy != model.SourceStopped {
		t.Errorf("expected immediate stopped result after Stop, got %+v", r)
	}
	if err := b.Run(context.Background()); err == nil {
		t.Error("expected Run to refuse a stopped broker")
	}
}

func TestRememberedTrustUpdatesStore(t *testing.T) {
	cert := &x509.Certificate{Raw: []byte{1, 2, 3}}
	signed := *appX
	signed.Signer = cert
	trust := &memTrust{}
	p := &scripted{answers: []model.Answer{
		{Decision: model.YesNoSandbox{Choice: model.ChoiceYes}, Remember: model.RememberApplication},
	}}
	b := startBroker(t, Config{Headless: p, TrustStore: trust})

	submit(t, b, model.NewRequest(model.KindCertificateTrust, &signed, model.Params{}))
	if trust.Len() != 1 {
		t.Fatalf("expected certificate added on remembered trust, got %d", trust.Len())
	}
	r := submit(t, b, model.NewRequest(model.KindCertificateTrust, &signed, model.Params{}))
	if r.ResolvedBy != model.SourceRemembered {
		t.Errorf("expected remembered trust, got %s", r.ResolvedBy)
	}
	if trust.Len() != 2 {
		t.Errorf("expected remembered hit to replay the trust update, got %d adds", trust.Len())
	}
}

func TestUnrememberedTrustLeavesStore(t *testing.T) {
	signed := *appX
	signed.Signer = &x509.Certificate{Raw: []byte{9}}
	trust := &memTrust{}
	p := &scripted{answers: []model.Answer{{Decision: model.YesNoSandbox{Choice: model.ChoiceYes}}}}
	b := startBroker(t, Config{Headless: p, TrustStore: trust})

	submit(t, b, model.NewRequest(model.KindCertificateTrust, &signed, model.Params{}))
	if trust.Len() != 0 {
		t.Errorf("expected no trust store change, got %d", trust.Len())
	}
}

func TestSubjectlessRememberDropped(t *testing.T) {
	p := &scripted{answers: []model.Answer{{Decision: model.Info{}, Remember: model.RememberOrigin}}}
	b := startBroker(t, Config{Headless: p})

	r := submit(t, b, model.NewRequest(model.KindSingleCertInfo, nil, model.Params{}))
	if r.Remember != model.RememberNone {
		t.Errorf("expected remember dropped, got %s", r.Remember)
	}
	if len(b.Remembered().List()) != 0 {
		t.Error("expected nothing remembered")
	}
}

func TestEveryResolutionAudited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	p := &scripted{answers: []model.Answer{
		{Decision: model.Credentials{User: "alice", Password: "s3cret"}},
	}}
	b := startBroker(t, Config{Headless: p, Audit: log, PolicyHash: "sha256:test"})

	submit(t, b, model.NewRequest(model.KindCredentialPrompt, appX, model.Params{Host: "apps.example.com", Realm: "corp"}))
	submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))

	res := audit.Verify(path)
	if !res.Valid || res.Lines != 2 {
		t.Fatalf("expected 2-line valid chain, got %+v", res)
	}
	read, err := audit.Read(path, audit.Filter{Kind: "credential-prompt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(read.Entries) != 1 || read.Entries[0].Decision != "alice ****" {
		t.Errorf("expected redacted credential entry, got %+v", read.Entries)
	}
	if read.Entries[0].PolicyHash != "sha256:test" {
		t.Errorf("expected policy hash recorded, got %q", read.Entries[0].PolicyHash)
	}
}

func TestReloadPolicy(t *testing.T) {
	p := &scripted{}
	b := startBroker(t, Config{Headless: p})

	bad := headlessPolicy()
	bad.TrustAll, bad.TrustNone = true, true
	if err := b.ReloadPolicy(bad, "sha256:bad"); !errors.Is(err, policy.ErrConflictingTrust) {
		t.Fatalf("expected conflicting trust error, got %v", err)
	}

	next := headlessPolicy()
	next.TrustAll = true
	if err := b.ReloadPolicy(next, "sha256:next"); err != nil {
		t.Fatal(err)
	}
	if _, hash := b.Policy(); hash != "sha256:next" {
		t.Errorf("expected new hash, got %s", hash)
	}
	r := submit(t, b, model.NewRequest(model.KindPrinter, appX, model.Params{}))
	if r.ResolvedBy != model.SourceTrustAll {
		t.Errorf("expected reloaded trust_all, got %s", r.ResolvedBy)
	}
}

func TestWhitelistRefusesBeforeCache(t *testing.T) {
	cfg := headlessPolicy()
	cfg.Whitelist = []string{"https://*.corp.example"}
	p := &scripted{}
	b := startBroker(t, Config{Policy: cfg, Headless: p})

	r := submit(t, b, model.NewRequest(model.KindFileRead, appX, model.Params{}))
	if r.ResolvedBy != model.SourceWhitelist || r.Granted() {
		t.Errorf("expected whitelist refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if p.Calls() != 0 {
		t.Errorf("expected no prompt, got %d", p.Calls())
	}
}

func TestCertIndexOutsideOfferFails(t *testing.T) {
	certs := []*x509.Certificate{{Raw: []byte{1}}, {Raw: []byte{2}}}
	tests := []struct {
		name    string
		certs   []*x509.Certificate
		answer  int
		granted bool
	}{
		{"offered", certs, 1, true},
		{"past the list", certs, 2, false},
		{"nothing offered", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scripted{answers: []model.Answer{{Decision: model.CertIndex{Index: tt.answer}}}}
			b := startBroker(t, Config{Headless: p})
			r := submit(t, b, model.NewRequest(model.KindClientCertSelect, appX, model.Params{Certificates: tt.certs}))
			if r.Granted() != tt.granted {
				t.Fatalf("expected granted=%v, got %s by %s", tt.granted, r.Decision, r.ResolvedBy)
			}
			if !tt.granted && (r.ResolvedBy != model.SourceFailure || r.Decision.Encode() != "-1") {
				t.Errorf("expected failure selecting none, got %s by %s", r.Decision, r.ResolvedBy)
			}
		})
	}
}

func TestStopReturnsRun(t *testing.T) {
	b, err := New(Config{Policy: headlessPolicy(), Headless: &scripted{}})
	if err != nil {
		t.Fatal(err)
	}
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		b.Run(context.Background())
	}()
	// nothing queued, so Run parks waiting for work
	time.Sleep(20 * time.Millisecond)

	b.Stop()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after Stop")
	}
}
