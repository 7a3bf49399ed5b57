package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/headless"
	"github.com/ppiankov/jnlpguard/internal/hostcheck"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/remember"
	"github.com/ppiankov/jnlpguard/internal/truststore"
)

// localBroker is a broker wired to the on-disk state named by the policy:
// the remember database, the trust store and the audit log.
type localBroker struct {
	*broker.Broker
	cache *remember.Cache
	audit *audit.Log
}

// openLocal opens the persisted state and builds a broker that prompts on
// in/out. A terminal gets the interactive presenter; anything else gets
// the line protocol.
func openLocal(ctx context.Context, cfg *policy.PolicyConfig, hash string, in *os.File, out io.Writer, log *zap.Logger) (*localBroker, error) {
	lb := &localBroker{}

	var store remember.Store
	if cfg.RememberDB != "" {
		s, err := remember.OpenSQLStore(cfg.RememberDB)
		if err != nil {
			return nil, err
		}
		store = s
	}
	cache, err := remember.NewCache(ctx, store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	lb.cache = cache

	bcfg := broker.Config{
		Policy:     cfg,
		PolicyHash: hash,
		Remember:   cache,
		Logger:     log,
		OnRemembered: func(req *model.Request, hit remember.CachedDecision) {
			log.Info("remembered answer replayed",
				zap.String("request_id", req.ID()),
				zap.String("kind", string(hit.Kind)),
				zap.String("scope", hit.Scope.String()),
				zap.String("decision", hit.Value))
		},
	}

	if cfg.TrustStore != "" {
		ts, err := truststore.Open(cfg.TrustStore)
		if err != nil {
			lb.Close()
			return nil, err
		}
		bcfg.TrustStore = ts
	}
	if cfg.AuditLog != "" {
		al, err := audit.Open(cfg.AuditLog)
		if err != nil {
			lb.Close()
			return nil, err
		}
		lb.audit = al
		bcfg.Audit = al
	}

	if in != nil {
		resolver := hostcheck.NewResolver(cfg.ResolveTTL)
		if headless.IsTerminal(in) {
			t := headless.NewTerminal(in, out, headless.WithResolver(resolver))
			bcfg.Interactive = t
			bcfg.Headless = t.Handler
		} else {
			bcfg.Headless = headless.New(in, out, headless.WithResolver(resolver))
		}
		bcfg.DetectHeadless = func() bool { return !headless.IsTerminal(in) }
	}

	b, err := broker.New(bcfg)
	if err != nil {
		lb.Close()
		return nil, err
	}
	lb.Broker = b
	return lb, nil
}

// Close stops the broker and releases the persisted state.
func (lb *localBroker) Close() error {
	if lb.Broker != nil {
		lb.Broker.Stop()
	}
	var errs []error
	if lb.audit != nil {
		errs = append(errs, lb.audit.Close())
	}
	if lb.cache != nil {
		errs = append(errs, lb.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close local state: %w", err)
	}
	return nil
}

// openCache opens only the remember database, for commands that manage
// remembered answers without arbitrating.
func openCache(ctx context.Context, cfg *policy.PolicyConfig) (*remember.Cache, error) {
	if cfg.RememberDB == "" {
		return nil, fmt.Errorf("no remember_db configured")
	}
	store, err := remember.OpenSQLStore(cfg.RememberDB)
	if err != nil {
		return nil, err
	}
	cache, err := remember.NewCache(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cache, nil
}
