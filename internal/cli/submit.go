package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/client"
)

var (
	submitReq     requestFlags
	submitAddr    string
	submitTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitReq.bind(submitCmd)
	submitCmd.ValidArgs = kindNames()
	submitCmd.Flags().StringVar(&submitAddr, "addr", "127.0.0.1:50551", "Broker service address")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "Give up waiting for an answer after this long (0 waits)")
}

var submitCmd = &cobra.Command{
	Use:   "submit <kind>",
	Short: "Send one request to a running broker service",
	Long: "Submits a request to \"jnlpguard serve\" and waits for the answer.\n" +
		"Fail-closed: when the service cannot be reached the request is refused\n" +
		"with the decision class's default negative.\n\n" +
		"Exit status is 0 when granted and 3 when refused.",
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := submitReq.build(args[0])
	if err != nil {
		return err
	}

	c, err := client.New(submitAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	if submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, submitTimeout)
		defer cancel()
	}

	r := c.Submit(ctx, req)
	printResult(r)
	return exitForResult(r)
}
