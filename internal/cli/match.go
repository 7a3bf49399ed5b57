package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/codebase"
)

var (
	matchWithPath bool
	matchExplain  bool
)

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().BoolVar(&matchWithPath, "with-path", false, "Also match the URL path against the pattern path")
	matchCmd.Flags().BoolVar(&matchExplain, "explain", false, "Print how each pattern was split")
}

var matchCmd = &cobra.Command{
	Use:   "match <patterns> <url>...",
	Short: "Test URLs against codebase patterns",
	Long: "Compiles a space separated list of codebase patterns, as found in a\n" +
		"manifest's Application-Library-Allowable-Codebase attribute or the\n" +
		"policy whitelist, and reports which URLs are covered.\n\n" +
		"Exit status is 3 when any URL is not covered.",
	Example: "  jnlpguard match '*.example.com https://cdn.example.net:8443' https://apps.example.com/app.jar",
	Args:    cobra.MinimumNArgs(2),
	RunE:    runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	set := codebase.CompileSet(args[0], matchWithPath)

	if matchExplain {
		for _, m := range set.Matchers() {
			fmt.Fprintf(out, "pattern %-40s %s\n", m.String(), m.Parts())
			if err := codebase.Validate(m.String()); err != nil {
				fmt.Fprintf(out, "  warning: %v\n", err)
			}
		}
		fmt.Fprintln(out)
	}

	missed := 0
	for _, u := range args[1:] {
		if set.Matches(u) {
			fmt.Fprintf(out, "covered      %s\n", u)
			continue
		}
		missed++
		fmt.Fprintf(out, "not covered  %s\n", u)
	}
	if missed > 0 {
		return &exitError{code: 3}
	}
	return nil
}
