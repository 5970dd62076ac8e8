package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serveLongDesc string = `Run the Lorekeeper engine until interrupted.

The engine sweeps for entities with aged events every compression_interval
and compresses them on a bounded worker pool, and purges expired durable
cache rows every purge_interval. On SIGINT or SIGTERM queued jobs are
drained for up to shutdown_timeout.`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with background compression",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cfg, logger, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = eng.Close() }()

			if err := eng.Start(cmd.Context()); err != nil {
				return fmt.Errorf("starting engine: %w", err)
			}
			logger.Info("lorekeeper serving",
				zap.String("storage", cfg.Storage.Engine),
				zap.Duration("compression_interval", cfg.Memory.CompressionInterval))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case sig := <-sigChan:
				logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Memory.ShutdownTimeout)
			defer cancel()
			return eng.Shutdown(ctx)
		},
	}
}
