package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/server"
)

const version = "0.3.0"

var versionJSON bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if !versionJSON {
			fmt.Fprintf(w, "jnlpguard %s (%s)\n", version, server.ServiceName)
			return nil
		}
		out, err := json.MarshalIndent(struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Service string `json:"service"`
		}{"jnlpguard", version, server.ServiceName}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	},
}
