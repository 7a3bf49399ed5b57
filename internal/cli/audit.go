package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/audit"
	"github.com/ppiankov/jnlpguard/internal/model"
)

var (
	tailLines   int
	tailKind    string
	tailOrigin  string
	tailRequest string
	tailSince   time.Duration
	tailJSON    bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	f := auditTailCmd.Flags()
	f.IntVarP(&tailLines, "lines", "n", 10, "Number of recent decisions to show (0 shows all)")
	f.StringVar(&tailKind, "kind", "", "Only show this decision class")
	f.StringVar(&tailOrigin, "origin", "", "Only show decisions for this codebase origin")
	f.StringVar(&tailRequest, "request", "", "Only show this request ID")
	f.DurationVar(&tailSince, "since", 0, "Only show decisions newer than this (e.g. 1h)")
	f.BoolVar(&tailJSON, "json", false, "Print entries and summary as JSON")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Decision log operations",
	Long: "Commands for verifying and inspecting the hash-chained decision log.\n" +
		"The path defaults to the policy's audit_log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the decision log",
	Long:  "Walks the JSONL decision log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent decisions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, err := loadPolicy()
	if err != nil {
		return "", fmt.Errorf("failed to load policy: %w", err)
	}
	if cfg.AuditLog == "" {
		return "", fmt.Errorf("no audit_log configured; pass a path")
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified (%d granted, %d refused)\n",
			result.Lines, result.Granted, result.Refused)
		return nil
	}
	if result.ErrorLine > 0 {
		return fmt.Errorf("FAILED at line %d: %s", result.ErrorLine, result.Error)
	}
	return fmt.Errorf("FAILED: %s", result.Error)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	filter := audit.Filter{
		Kind:      tailKind,
		RequestID: tailRequest,
		Last:      tailLines,
	}
	if tailOrigin != "" {
		filter.Origin = model.NormalizeOrigin(tailOrigin)
	}
	if tailSince > 0 {
		filter.From = time.Now().Add(-tailSince)
	}

	result, err := audit.Read(path, filter)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if tailJSON {
		s, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatTimeline(result))
	return nil
}
