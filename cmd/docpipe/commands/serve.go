package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-docparser/internal/app"
	"github.com/tendant/simple-docparser/internal/server"
)

var serveGrace time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /run over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveGrace, "grace", 30*time.Second, "time running jobs get to finish on shutdown, overrides SHUTDOWN_GRACE")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cmd.Flags().Changed("grace") {
		serveGrace = cfg.Server.ShutdownGrace
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.Pipeline, a.Store, server.Options{
		MaxConcurrentJobs: cfg.Server.MaxConcurrentJobs,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		Metrics:           a.Metrics.Handler(),
		Track:             a.Metrics.Track,
		Logger:            logger,
	})

	logger.Info("http server listening", "addr", cfg.Server.Addr, "max_concurrent_jobs", cfg.Server.MaxConcurrentJobs)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, serveGrace); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
