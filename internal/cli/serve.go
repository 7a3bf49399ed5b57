package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/jnlpguard/internal/headless"
	"github.com/ppiankov/jnlpguard/internal/policy"
	"github.com/ppiankov/jnlpguard/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:50551", "gRPC listen address")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker service",
	Long: "Runs the broker as a gRPC service so plugin hosts and launchers submit\n" +
		"requests from other processes. Prompts are asked on this terminal, or\n" +
		"over stdin/stdout with the headless protocol. The policy file is hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync()

	cfg, hash, err := loadPolicy()
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lb, err := openLocal(ctx, cfg, hash, os.Stdin, os.Stdout, log)
	if err != nil {
		return fmt.Errorf("failed to open broker state: %w", err)
	}
	defer lb.Close()

	path := policyPath
	if path == "" {
		path = policy.DefaultPath()
	}
	srv := server.New(lb.Broker, server.Config{
		Addr:       serveAddr,
		PolicyPath: path,
		Override:   applyFlags,
		Logger:     log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lb.Run(gctx) })
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		return nil
	})

	reloader, err := server.NewReloader(srv, []string{path})
	if err != nil {
		log.Warn("hot-reload disabled", zap.Error(err))
	} else {
		if reloader.Watching() > 0 {
			log.Info("policy hot-reload enabled", zap.String("path", path))
		}
		g.Go(func() error { return reloader.Run(gctx) })
	}

	log.Info("jnlpguard broker starting",
		zap.String("addr", serveAddr),
		zap.String("policy_hash", hash),
		zap.Bool("headless", cfg.IsHeadless(func() bool { return !headless.IsTerminal(os.Stdin) })))

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
