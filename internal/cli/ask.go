package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
)

var askReq requestFlags

func init() {
	rootCmd.AddCommand(askCmd)
	askReq.bind(askCmd)
	askCmd.ValidArgs = kindNames()
}

var askCmd = &cobra.Command{
	Use:   "ask <kind>",
	Short: "Arbitrate one request in this process",
	Long: "Builds a request from flags and runs it through the full arbitration\n" +
		"order against the local remember database and policy. Prompts go to\n" +
		"stderr; the encoded decision is printed on stdout.\n\n" +
		"Exit status is 0 when granted and 3 when refused.",
	Example: "  jnlpguard ask network-connect --codebase https://apps.example.com/ --title Payroll --host db.example.com --port 5432",
	Args:    cobra.ExactArgs(1),
	RunE:    runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	req, err := askReq.build(args[0])
	if err != nil {
		return err
	}

	log := newLogger()
	defer log.Sync()

	cfg, hash, err := loadPolicy()
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lb, err := openLocal(ctx, cfg, hash, os.Stdin, os.Stderr, log)
	if err != nil {
		return err
	}
	defer lb.Close()
	go lb.Run(ctx)

	r, err := lb.Submit(ctx, req)
	if err != nil {
		return err
	}
	printResult(r)
	return exitForResult(r)
}

// exitForResult turns a refusal into exit status 3 so scripts can branch
// on the answer without parsing it.
func exitForResult(r broker.Result) error {
	if r.Granted() {
		return nil
	}
	return &exitError{code: 3}
}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// kindNames lists the decision classes for shell completion.
func kindNames() []string {
	kinds := model.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}
