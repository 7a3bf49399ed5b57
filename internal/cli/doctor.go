package cli

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/headless"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/truststore"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check policy and state files for problems",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Policy file.
	path := policyPath
	if path == "" {
		path = policy.DefaultPath()
	}
	cfg, hash, err := loadPolicy()
	switch {
	case err != nil:
		checks = append(checks, checkResult{label: "policy", detail: err.Error(), fix: "edit " + path})
	default:
		detail := path + " (" + hash[:19] + ")"
		if _, serr := os.Stat(path); serr != nil {
			detail = "defaults, no file at " + path
		}
		checks = append(checks, checkResult{label: "policy", ok: true, detail: detail})
	}
	if cfg == nil {
		return printChecks(cmd, checks)
	}

	// 2. Arbitration mode.
	mode := "prompting"
	switch {
	case cfg.TrustNone:
		mode = "trust_none, every request refused"
	case cfg.TrustAll:
		mode = "trust_all, every request granted"
	case !cfg.PromptEnabled:
		mode = "prompts disabled, unanswered requests refused"
	}
	if cfg.IsHeadless(func() bool { return !headless.IsTerminal(os.Stdin) }) {
		mode += ", headless"
	}
	checks = append(checks, checkResult{label: "mode", ok: true, detail: mode})

	// 3. Remember database.
	if cfg.RememberDB == "" {
		checks = append(checks, checkResult{label: "remember db", ok: true, detail: "memory only"})
	} else if cache, err := openCache(context.Background(), cfg); err != nil {
		checks = append(checks, checkResult{label: "remember db", detail: err.Error(), fix: "jnlpguard remember clear"})
	} else {
		checks = append(checks, checkResult{
			label:  "remember db",
			ok:     true,
			detail: fmt.Sprintf("%s (%d answers)", cfg.RememberDB, len(cache.List())),
		})
		cache.Close()
	}

	// 4. Trust store.
	if cfg.TrustStore != "" {
		var certs int
		ts, err := truststore.Open(cfg.TrustStore)
		if err == nil {
			var list []*x509.Certificate
			list, err = ts.Certificates()
			certs = len(list)
		}
		if err != nil {
			checks = append(checks, checkResult{label: "truststore", detail: err.Error(), fix: "repair or remove " + cfg.TrustStore})
		} else {
			checks = append(checks, checkResult{
				label:  "truststore",
				ok:     true,
				detail: fmt.Sprintf("%s (%d certificates)", cfg.TrustStore, certs),
			})
		}
	}

	// 5. Decision log chain.
	if cfg.AuditLog != "" {
		if _, err := os.Stat(cfg.AuditLog); err != nil {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: "not created yet"})
		} else if r := audit.Verify(cfg.AuditLog); !r.Valid {
			checks = append(checks, checkResult{
				label:  "audit log",
				detail: fmt.Sprintf("chain broken at line %d: %s", r.ErrorLine, r.Error),
				fix:    "jnlpguard audit verify",
			})
		} else {
			checks = append(checks, checkResult{
				label:  "audit log",
				ok:     true,
				detail: fmt.Sprintf("%d entries, chain intact", r.Lines),
			})
		}
	}

	return printChecks(cmd, checks)
}

func printChecks(cmd *cobra.Command, checks []checkResult) error {
	out := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-14s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		return fmt.Errorf("doctor found issues")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}
