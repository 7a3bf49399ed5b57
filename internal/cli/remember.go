package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/client"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/remember"
)

var (
	rememberAddr  string
	rememberKind  string
	rememberScope string
)

func init() {
	rootCmd.AddCommand(rememberCmd)
	rememberCmd.AddCommand(rememberListCmd)
	rememberCmd.AddCommand(rememberForgetCmd)
	rememberCmd.AddCommand(rememberClearCmd)
	rememberCmd.PersistentFlags().StringVar(&rememberAddr, "addr", "", "Manage a running broker service instead of the local database")
	rememberListCmd.Flags().StringVar(&rememberKind, "kind", "", "Only show this decision class")
	rememberForgetCmd.Flags().StringVar(&rememberKind, "kind", "", "Only forget this decision class")
	rememberForgetCmd.Flags().StringVar(&rememberScope, "scope", "origin", "Key scope: application or origin")
}

var rememberCmd = &cobra.Command{
	Use:   "remember",
	Short: "Inspect and revoke remembered answers",
	Long: "Remembered answers are kept until revoked. They are stored in the\n" +
		"policy's remember_db, or held by a running service (--addr).",
}

var rememberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered answers",
	Args:  cobra.NoArgs,
	RunE:  runRememberList,
}

var rememberForgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Forget remembered answers for one application or origin",
	Long: "Removes the answers stored under key. For --scope origin the key may be\n" +
		"any URL on the origin; it is normalized the way the broker stores it.",
	Args: cobra.ExactArgs(1),
	RunE: runRememberForget,
}

var rememberClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every remembered answer",
	Args:  cobra.NoArgs,
	RunE:  runRememberClear,
}

func runRememberList(cmd *cobra.Command, args []string) error {
	var kind model.Kind
	if rememberKind != "" {
		k, err := model.ParseKind(rememberKind)
		if err != nil {
			return err
		}
		kind = k
	}

	var entries []remember.CachedDecision
	if rememberAddr != "" {
		c, err := client.New(rememberAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		if entries, err = c.ListRemembered(kind); err != nil {
			return fmt.Errorf("list remembered: %w", err)
		}
	} else {
		err := withLocalCache(cmd.Context(), func(ctx context.Context, cache *remember.Cache) error {
			for _, e := range cache.List() {
				if kind == "" || e.Kind == kind {
					entries = append(entries, e)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func runRememberForget(cmd *cobra.Command, args []string) error {
	scope, err := model.ParseRememberScope(rememberScope)
	if err != nil {
		return err
	}
	if scope == model.RememberNone {
		return fmt.Errorf("--scope must be application or origin")
	}
	var kind model.Kind
	if rememberKind != "" {
		if kind, err = model.ParseKind(rememberKind); err != nil {
			return err
		}
	}
	key := args[0]
	if scope == model.RememberOrigin {
		key = model.NormalizeOrigin(key)
	}

	var n int
	if rememberAddr != "" {
		c, err := client.New(rememberAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		n, err = c.Forget(kind, scope, key)
		if err != nil {
			return fmt.Errorf("forget: %w", err)
		}
	} else {
		err = withLocalCache(cmd.Context(), func(ctx context.Context, cache *remember.Cache) error {
			var ferr error
			n, ferr = cache.Forget(ctx, kind, scope, key)
			return ferr
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %d answer(s) for %s\n", n, key)
	return nil
}

func runRememberClear(cmd *cobra.Command, args []string) error {
	var n int
	if rememberAddr != "" {
		c, err := client.New(rememberAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		if n, err = c.Clear(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	} else {
		err := withLocalCache(cmd.Context(), func(ctx context.Context, cache *remember.Cache) error {
			n = len(cache.List())
			return cache.Clear(ctx)
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d remembered answer(s)\n", n)
	return nil
}

func withLocalCache(ctx context.Context, fn func(context.Context, *remember.Cache) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadPolicy()
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	cache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()
	return fn(ctx, cache)
}

func printEntries(w io.Writer, entries []remember.CachedDecision) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No remembered answers.")
		return
	}
	fmt.Fprintf(w, "%-12s %-22s %-7s %-24s %-20s %s\n", "SCOPE", "KIND", "ACTION", "DECISION", "LAST USED", "KEY")
	for _, e := range entries {
		fmt.Fprintf(w, "%-12s %-22s %-7s %-24s %-20s %s\n",
			e.Scope, e.Kind, e.Action, e.Value,
			e.LastUsed.UTC().Format("2006-01-02 15:04:05"), e.Key)
	}
}
