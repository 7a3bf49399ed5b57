package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/jnlpguard/internal/codebase"
	"github.com/ppiankov/jnlpguard/internal/model"
)

// Result is a decision reached without the remember cache or a human.
type Result struct {
	Decision   model.Decision
	ResolvedBy model.Source
	Reason     string
}

// Evaluate applies the automated arbitration steps to req. It returns
// false when the request must go on to the remember cache and prompting.
//
// Evaluation order (must not be changed):
//  1. trust_none, resolve default negative
//  2. trust_all, resolve default positive
//  3. Whitelist, subjects from uncovered codebases resolve negative
//  4. Allowed codebases, ALACA requests with uncovered URLs resolve negative
func Evaluate(req *model.Request, cfg *PolicyConfig) (Result, bool) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	kind := req.Kind()

	// Step 1 and 2: automated trust overrides
	if cfg.TrustNone {
		return Result{
			Decision:   model.DefaultNegative(kind),
			ResolvedBy: model.SourceTrustNone,
			Reason:     "trust_none is set",
		}, true
	}
	if cfg.TrustAll {
		return Result{
			Decision:   req.DefaultPositive(),
			ResolvedBy: model.SourceTrustAll,
			Reason:     "trust_all is set",
		}, true
	}

	// Step 3: deployment whitelist
	if wl := cfg.WhitelistSet(); wl != nil {
		if subj, ok := req.Subject(); ok {
			for _, loc := range []string{subj.Codebase, subj.Location} {
				if strings.TrimSpace(loc) == "" {
					continue
				}
				if !wl.Matches(loc) {
					return Result{
						Decision:   model.DefaultNegative(kind),
						ResolvedBy: model.SourceWhitelist,
						Reason:     fmt.Sprintf("%s is not whitelisted", loc),
					}, true
				}
			}
		}
	}

	// Step 4: allowed codebases carried by the request
	if kind.UsesCodebaseWhitelist() {
		params := req.Params()
		if strings.TrimSpace(params.AllowedCodebases) != "" {
			allowed := codebase.CompileSet(params.AllowedCodebases, true)
			for _, u := range params.URLs {
				if !allowed.Matches(u) {
					return Result{
						Decision:   model.DefaultNegative(kind),
						ResolvedBy: model.SourceCodebase,
						Reason:     fmt.Sprintf("%s is not covered by %q", u, params.AllowedCodebases),
					}, true
				}
			}
		}
	}

	return Result{}, false
}
