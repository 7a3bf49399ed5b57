package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/remember"
)

// errNoPresenter means prompting is enabled but nothing can prompt.
var errNoPresenter = errors.New("no presenter configured")

// process arbitrates one request on the consumer goroutine and delivers
// the result. Failures resolve to the kind's default negative.
func (b *Broker) process(ctx context.Context, h *Handle) {
	snap := b.policy.Load()
	req := h.req

	r, err := b.safeResolve(ctx, req, snap)
	if err != nil {
		b.log.Error("arbitration failed",
			zap.String("request_id", req.ID()),
			zap.String("kind", string(req.Kind())),
			zap.Error(err))
		r = Result{
			Decision:   model.DefaultNegative(req.Kind()),
			ResolvedBy: model.SourceFailure,
			Reason:     err.Error(),
		}
	}
	r.RequestID = req.ID()
	r.Kind = req.Kind()

	// Side effects of a fresh answer land before the caller sees it.
	if r.Remember != model.RememberNone {
		b.applyTrust(req, r.Decision)
		if subj, ok := req.Subject(); ok {
			if err := b.remember.Record(ctx, req.Kind(), subj, r.Decision, r.Remember); err != nil {
				b.log.Warn("remember failed",
					zap.String("request_id", req.ID()),
					zap.Error(err))
			}
		}
	}

	b.finishWith(h, r, snap.hash)
}

func (b *Broker) safeResolve(ctx context.Context, req *model.Request, snap *policySnapshot) (r Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during arbitration: %v", p)
		}
	}()
	return b.resolve(ctx, req, snap.cfg)
}

// resolve runs the arbitration steps.
//
// Order (must not be changed):
//  1. Automated policy: trust_none, trust_all, whitelist, allowed codebases
//  2. Remembered answer for the application, then for its origin
//  3. prompt_enabled false, default negative
//  4. Headless text protocol or interactive presenter
func (b *Broker) resolve(ctx context.Context, req *model.Request, cfg *policy.PolicyConfig) (Result, error) {
	kind := req.Kind()
	if !kind.Valid() {
		return Result{}, fmt.Errorf("unknown decision class %q", kind)
	}

	// Step 1: automated policy
	if res, ok := policy.Evaluate(req, cfg); ok {
		return Result{Decision: res.Decision, ResolvedBy: res.ResolvedBy, Reason: res.Reason}, nil
	}

	// Step 2: remembered answers
	subj, hasSubject := req.Subject()
	if hasSubject && kind.Rememberable() {
		if hit, ok := b.remember.Lookup(kind, subj); ok {
			d, err := hit.Decision()
			if err == nil {
				b.replay(ctx, req, hit, d)
				return Result{
					Decision:   d,
					ResolvedBy: model.SourceRemembered,
					Reason:     "remembered for " + hit.Scope.String(),
				}, nil
			}
			b.log.Warn("ignoring unreadable remembered answer",
				zap.String("kind", string(kind)),
				zap.String("key", hit.Key),
				zap.Error(err))
		}
	}

	// Step 3: prompting disabled
	if !cfg.PromptEnabled {
		return Result{
			Decision:   model.DefaultNegative(kind),
			ResolvedBy: model.SourcePromptDisabled,
			Reason:     "prompt_enabled is false",
		}, nil
	}

	// Step 4: ask
	presenter, source := b.presenter(cfg)
	if presenter == nil {
		return Result{}, errNoPresenter
	}
	ans, err := presenter.Present(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("%s prompt: %w", source, err)
	}
	if err := req.CheckDecision(ans.Decision); err != nil {
		return Result{}, fmt.Errorf("%s prompt: %w", source, err)
	}
	if ans.Remember != model.RememberNone && (!hasSubject || !kind.Rememberable()) {
		b.log.Debug("dropping remember scope",
			zap.String("request_id", req.ID()),
			zap.String("kind", string(kind)))
		ans.Remember = model.RememberNone
	}
	return Result{Decision: ans.Decision, Remember: ans.Remember, ResolvedBy: source}, nil
}

func (b *Broker) presenter(cfg *policy.PolicyConfig) (Presenter, model.Source) {
	if cfg.IsHeadless(b.cfg.DetectHeadless) || b.cfg.Interactive == nil {
		return b.cfg.Headless, model.SourceHeadless
	}
	return b.cfg.Interactive, model.SourceInteractive
}

// replay re-applies what a remembered answer implied.
func (b *Broker) replay(ctx context.Context, req *model.Request, hit remember.CachedDecision, d model.Decision) {
	if err := b.remember.MarkUsed(ctx, hit); err != nil {
		b.log.Warn("refresh remembered answer failed", zap.String("key", hit.Key), zap.Error(err))
	}
	b.applyTrust(req, d)
	if b.cfg.OnRemembered != nil {
		b.cfg.OnRemembered(req, hit)
	}
}

// applyTrust adds the request's certificates to the trust store when a
// remembered answer grants certificate trust.
func (b *Broker) applyTrust(req *model.Request, d model.Decision) {
	if b.cfg.TrustStore == nil || !req.Kind().MutatesTrust() || !d.Positive() {
		return
	}
	for _, cert := range req.TrustCandidates() {
		if err := b.cfg.TrustStore.Add(cert); err != nil {
			b.log.Error("trust store update failed",
				zap.String("request_id", req.ID()),
				zap.String("subject", cert.Subject.String()),
				zap.Error(err))
		}
	}
}

func (b *Broker) finish(h *Handle, r Result) {
	b.finishWith(h, r, b.policy.Load().hash)
}

// finishWith records r in the decision log, then delivers it.
func (b *Broker) finishWith(h *Handle, r Result, policyHash string) {
	req := h.req
	if b.cfg.Audit != nil {
		entry := audit.NewEntry(req, r.Decision, r.ResolvedBy, r.Remember, r.Reason, policyHash)
		if err := b.cfg.Audit.Record(entry); err != nil {
			b.log.Error("audit write failed", zap.String("request_id", req.ID()), zap.Error(err))
		}
	}
	b.log.Debug("decision resolved",
		zap.String("request_id", req.ID()),
		zap.String("kind", string(req.Kind())),
		zap.String("resolved_by", string(r.ResolvedBy)),
		zap.Stringer("decision", r.Decision),
		zap.String("remember", r.Remember.String()))
	b.deliver(h, r)
}
