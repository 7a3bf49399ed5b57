package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/jnlpguard/internal/logging"
	"github.com/ppiankov/jnlpguard/internal/policy"
)

var (
	policyPath   string
	flagTrustAll bool
	flagNoTrust  bool
	flagHeadless bool
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "jnlpguard",
	Short: "Authorization broker for Web Start and applet runtimes",
	Long: "Arbitrates permission, trust and credential requests raised by sandboxed\n" +
		"applications. Automated policy answers first, remembered answers second,\n" +
		"and a human (or the headless line protocol) answers the rest, one at a time.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&policyPath, "policy", "", "Path to policy YAML (default ~/.jnlpguard/policy.yaml)")
	pf.BoolVar(&flagTrustAll, "trust-all", false, "Grant every request without asking")
	pf.BoolVar(&flagNoTrust, "trust-none", false, "Refuse every request without asking")
	pf.BoolVar(&flagHeadless, "headless", false, "Answer prompts with the text protocol on stdin/stdout")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LevelEnv)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags overrides file values with the global flags. It runs on every
// load, hot reloads included.
func applyFlags(cfg *policy.PolicyConfig) {
	if flagTrustAll {
		cfg.TrustAll = true
	}
	if flagNoTrust {
		cfg.TrustNone = true
	}
	if flagHeadless {
		on := true
		cfg.Headless = &on
	}
}

// loadPolicy reads the policy file, applies the flags and validates the
// result.
func loadPolicy() (*policy.PolicyConfig, string, error) {
	cfg, hash, err := policy.LoadConfigWithHash(policyPath)
	if err != nil {
		return nil, "", err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

func newLogger() *zap.Logger {
	return logging.Must(logging.Options{Level: logLevel})
}
