package client

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/ratelimit"
	"github.com/ppiankov/jnlpguard/internal/server"
)

var testSubject = &model.Subject{
	Title:    "Payroll",
	Codebase: "https://apps.example.com/payroll/",
}

// startTestServer runs a broker behind a server and returns its address.
func startTestServer(t *testing.T, cfg *policy.PolicyConfig, p broker.Presenter) string {
	t.Helper()

	on := true
	cfg.Headless = &on
	b, err := broker.New(broker.Config{Policy: cfg, Headless: p})
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	srv := server.New(b, server.Config{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	t.Cleanup(func() {
		srv.GracefulStop()
		cancel()
	})
	return lis.Addr().String()
}

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientSubmitTrustAll(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.TrustAll = true
	c := newClient(t, startTestServer(t, cfg, nil))

	req := model.NewRequest(model.KindShortcutCreate, testSubject, model.Params{})
	r := c.Submit(context.Background(), req)
	if !r.Granted() || r.ResolvedBy != model.SourceTrustAll {
		t.Errorf("expected trust-all grant, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if r.Decision.Encode() != "YES desktop=generated menu=generated" {
		t.Errorf("expected default shortcut placement, got %s", r.Decision.Encode())
	}
	if r.RequestID != req.ID() {
		t.Errorf("expected request id preserved, got %s", r.RequestID)
	}
}

func TestClientSubmitCredentials(t *testing.T) {
	p := broker.PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		return model.Answer{Decision: model.Credentials{User: "alice", Password: "two words"}}, nil
	})
	c := newClient(t, startTestServer(t, policy.DefaultConfig(), p))

	r := c.Submit(context.Background(), model.NewRequest(model.KindCredentialPrompt, testSubject, model.Params{Realm: "corp"}))
	creds, ok := r.Decision.(model.Credentials)
	if !ok || creds.User != "alice" || creds.Password != "two words" {
		t.Errorf("expected credentials delivered to the caller, got %+v", r.Decision)
	}
}

func TestClientFailClosed(t *testing.T) {
	// Connect to a port that doesn't have a server
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close() // nothing listens here now

	c := newClient(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := c.Submit(ctx, model.NewRequest(model.KindCertificateTrust, testSubject, model.Params{}))
	// Fail-closed: unreachable broker returns the kind's negative
	if r.Granted() || r.ResolvedBy != model.SourceFailure {
		t.Errorf("expected fail-closed refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if r.Decision.Encode() != "SANDBOX" {
		t.Errorf("expected SANDBOX for certificate trust, got %s", r.Decision.Encode())
	}
}

func TestClientUnimplementedFailsClosed(t *testing.T) {
	// A bare grpc server without the broker service answers Unimplemented
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer()
	go gs.Serve(lis)
	defer gs.GracefulStop()

	c := newClient(t, lis.Addr().String())
	r := c.Submit(context.Background(), model.NewRequest(model.KindPrinter, testSubject, model.Params{}))
	if r.Granted() || r.ResolvedBy != model.SourceFailure {
		t.Errorf("expected fail-closed refusal, got %s by %s", r.Decision, r.ResolvedBy)
	}
}

func TestClientRememberManagement(t *testing.T) {
	p := broker.PresenterFunc(func(ctx context.Context, req *model.Request) (model.Answer, error) {
		return model.Answer{Decision: model.DefaultNegative(req.Kind()), Remember: model.RememberOrigin}, nil
	})
	c := newClient(t, startTestServer(t, policy.DefaultConfig(), p))

	c.Submit(context.Background(), model.NewRequest(model.KindFileWrite, testSubject, model.Params{}))
	c.Submit(context.Background(), model.NewRequest(model.KindPrinter, testSubject, model.Params{}))

	entries, err := c.ListRemembered("")
	if err != nil {
		t.Fatalf("ListRemembered: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	printers, _ := c.ListRemembered(model.KindPrinter)
	if len(printers) != 1 || printers[0].Scope != model.RememberOrigin {
		t.Fatalf("expected one origin printer entry, got %+v", printers)
	}

	n, err := c.Forget(model.KindPrinter, model.RememberOrigin, printers[0].Key)
	if err != nil || n != 1 {
		t.Fatalf("Forget: %d, %v", n, err)
	}
	n, err = c.Clear()
	if err != nil || n != 1 {
		t.Fatalf("Clear: %d, %v", n, err)
	}
}

func TestClientForgetRequiresScope(t *testing.T) {
	c := newClient(t, startTestServer(t, policy.DefaultConfig(), nil))
	if _, err := c.Forget("", model.RememberNone, "key"); err == nil {
		t.Error("expected error for scope none")
	}
}

func TestClientRateLimitedFailsClosed(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.TrustAll = true
	cfg.RemoteLimits = ratelimit.Limits{ratelimit.Wildcard: {MaxRequests: 1, Window: time.Minute}}
	c := newClient(t, startTestServer(t, cfg, nil))

	if r := c.Submit(context.Background(), model.NewRequest(model.KindPrinter, testSubject, model.Params{})); !r.Granted() {
		t.Fatalf("expected first request granted, got %s", r.Decision)
	}
	r := c.Submit(context.Background(), model.NewRequest(model.KindPrinter, testSubject, model.Params{}))
	if r.Granted() || r.ResolvedBy != model.SourceFailure {
		t.Errorf("expected limited request refused, got %s by %s", r.Decision, r.ResolvedBy)
	}
	if !strings.HasPrefix(r.Reason, "broker refused: rate limit exceeded") {
		t.Errorf("unexpected reason %q", r.Reason)
	}
}
