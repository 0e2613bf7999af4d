package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/sanonone/lattice/internal/mcp"
	"github.com/sanonone/lattice/pkg/lattice"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the lattice as an MCP (Model Context Protocol) server over stdio",
		Long: `Open the lattice data directory in-process and expose it to an MCP
client over stdin/stdout. Logs go to stderr.

Tools: store_item, search_items, route_query, compress_node, link_nodes,
lattice_stats, run_maintenance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			m, err := lattice.Open(cfg.DataDir, cfg.Lattice, lattice.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to open lattice: %w", err)
			}
			defer m.Close()
			if interval := cfg.MaintenanceInterval.Std(); interval > 0 {
				m.StartMaintenance(interval)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := mcp.NewMCPServer(m).Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().String("data-dir", "", "Data directory (overrides the config file)")
	cmd.Flags().String("http-addr", "", "Unused by mcp")
	cmd.Flags().MarkHidden("http-addr")
	return cmd
}
