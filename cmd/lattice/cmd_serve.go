package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanonone/lattice/internal/server"
	"github.com/sanonone/lattice/pkg/config"
	"github.com/sanonone/lattice/pkg/lattice"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lattice HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)
			slog.SetDefault(logger)

			m, err := lattice.Open(cfg.DataDir, cfg.Lattice, lattice.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to open lattice: %w", err)
			}
			defer m.Close()

			if interval := cfg.MaintenanceInterval.Std(); interval > 0 {
				m.StartMaintenance(interval)
				logger.Info("Maintenance scheduler started", "interval", interval)
			}

			srv := server.NewServer(m, server.Options{
				Addr:      cfg.HTTPAddr,
				AuthToken: cfg.AuthToken,
				RateLimit: cfg.RateLimit,
				Logger:    logger,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Run()
			}()

			shutdownChan := make(chan os.Signal, 1)
			signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(shutdownChan)

			select {
			case err := <-errCh:
				return err
			case sig := <-shutdownChan:
				logger.Info("Shutdown signal received", "signal", sig.String())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("HTTP shutdown failed", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().String("data-dir", "", "Data directory (overrides the config file)")
	cmd.Flags().String("http-addr", "", "HTTP listen address (overrides the config file)")
	return cmd
}

// loadServeConfig reads the config file and applies command-line overrides.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	return cfg, nil
}
