// Package server exposes a broker to out-of-process callers over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/ratelimit"
	"github.com/ppiankov/jnlpguard/internal/remember"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr       string
	PolicyPath string
	// Override is applied to every policy load, so command-line flags
	// survive hot reload.
	Override func(*policy.PolicyConfig)
	Logger   *zap.Logger
}

// Server implements the jnlpguard.v1.Broker service.
type Server struct {
	broker     *broker.Broker
	cfg        Config
	log        *zap.Logger
	limiter    *ratelimit.Tracker
	now        func() time.Time
	grpcServer *grpc.Server
}

// New registers the broker service. The broker must be running for
// Submit to return.
func New(b *broker.Broker, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		broker:     b,
		cfg:        cfg,
		log:        log,
		limiter:    ratelimit.NewTracker(),
		now:        time.Now,
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.log.Info("broker service listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Submit implements the Submit RPC. It blocks until the broker delivers.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := StructToRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	caller := callerOf(ctx)
	s.log.Debug("remote request",
		zap.String("request_id", req.ID()),
		zap.String("kind", string(req.Kind())),
		zap.String("caller", caller))

	cfg, _ := s.broker.Policy()
	if res := s.limiter.Evaluate(caller, string(req.Kind()), cfg.RemoteLimits, s.now()); res.Exceeded {
		s.log.Warn("remote request refused",
			zap.String("request_id", req.ID()),
			zap.String("caller", caller),
			zap.String("reason", res.Reason))
		return nil, status.Error(codes.ResourceExhausted, res.Reason)
	}

	r, err := s.broker.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Internal, "submit: %v", err)
	}
	return ResultToStruct(r)
}

// Forget implements the Forget RPC. "all" clears every remembered answer;
// otherwise scope and key select one subject and an optional kind.
func (s *Server) Forget(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	cache := s.broker.Remembered()
	key := f["key"].GetStringValue()

	if f["all"].GetBoolValue() {
		n := len(cache.List())
		if err := cache.Clear(ctx); err != nil {
			return nil, status.Errorf(codes.Internal, "clear: %v", err)
		}
		return structpb.NewStruct(map[string]any{"removed": float64(n)})
	}

	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "forget needs a key or all")
	}
	scope, err := model.ParseRememberScope(f["scope"].GetStringValue())
	if err != nil || scope == model.RememberNone {
		return nil, status.Errorf(codes.InvalidArgument, "forget needs scope application or origin")
	}
	var kind model.Kind
	if raw := f["kind"].GetStringValue(); raw != "" {
		if kind, err = model.ParseKind(raw); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	n, err := cache.Forget(ctx, kind, scope, key)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "forget: %v", err)
	}
	return structpb.NewStruct(map[string]any{"removed": float64(n)})
}

// ListRemembered implements the ListRemembered RPC.
func (s *Server) ListRemembered(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	entries := s.broker.Remembered().List()
	if kind := in.GetFields()["kind"].GetStringValue(); kind != "" {
		entries = filterKind(entries, model.Kind(kind))
	}
	return EntriesToStruct(entries)
}

// ReloadPolicy reloads the policy file and swaps it into the broker.
// Called by the hot-reloader on file change.
func (s *Server) ReloadPolicy() error {
	cfg, hash, err := policy.LoadConfigWithHash(s.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy config: %w", err)
	}
	if s.cfg.Override != nil {
		s.cfg.Override(cfg)
	}
	return s.broker.ReloadPolicy(cfg, hash)
}

// callerOf identifies the remote process by its peer host.
func callerOf(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func filterKind(entries []remember.CachedDecision, kind model.Kind) []remember.CachedDecision {
	out := entries[:0]
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
