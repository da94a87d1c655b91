package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/rentstream/internal/app"
	"github.com/R3E-Network/rentstream/internal/config"
	"github.com/R3E-Network/rentstream/internal/logging"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event stream service",
		Long: `Connect to the chain, serve the HTTP API and run until SIGINT or SIGTERM.
SIGHUP restarts the chain subscription after its reconnect attempts ran out.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown deadline")
	return cmd
}

func runServe(parent context.Context, flags *globalFlags, shutdownTimeout time.Duration) error {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	application, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

wait:
	for {
		select {
		case <-hup:
			log.WithField("state", application.Manager.Status().String()).Info("SIGHUP received, restarting chain subscription")
			go application.Manager.Start(ctx)
		case <-ctx.Done():
			break wait
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}
