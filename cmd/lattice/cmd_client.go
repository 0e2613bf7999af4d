package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/lattice/pkg/client"
)

func newClient(cmd *cobra.Command) *client.Client {
	url, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.New(url, token)
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add EMBEDDING",
		Short: "Store an item (embedding as '0.1,0.2,...' or a JSON array)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emb, err := parseEmbedding(args[0])
			if err != nil {
				return err
			}
			item := client.Item{Embedding: emb}
			item.ID, _ = cmd.Flags().GetString("id")
			if p, _ := cmd.Flags().GetString("payload"); p != "" {
				if !json.Valid([]byte(p)) {
					return fmt.Errorf("payload must be valid JSON")
				}
				item.Payload = json.RawMessage(p)
			}

			c := newClient(cmd)
			var id string
			if nodeID, _ := cmd.Flags().GetString("node"); nodeID != "" {
				id, err = c.AddItemToNode(nodeID, item)
			} else {
				id, err = c.AddItem(item)
			}
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored item %s\n", id)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Item id (generated when empty)")
	cmd.Flags().String("payload", "", "JSON payload")
	cmd.Flags().String("node", "", "Store into this node instead of routing")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search EMBEDDING",
		Short: "Search the lattice for the items closest to an embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emb, err := parseEmbedding(args[0])
			if err != nil {
				return err
			}
			topK, _ := cmd.Flags().GetInt("top-k")
			c := newClient(cmd)

			if routeOnly, _ := cmd.Flags().GetBool("route"); routeOnly {
				routes, err := c.Route(emb, topK)
				if err != nil {
					return err
				}
				if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
					return printJSON(cmd.OutOrStdout(), routes)
				}
				for _, r := range routes {
					fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s\n", r.Score, r.NodeID)
				}
				return nil
			}

			hits, err := c.Search(emb, topK)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			for _, h := range hits {
				itemID := "-"
				if h.Item != nil {
					itemID = h.Item.ID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s  %s\n", h.Score, h.NodeID, itemID)
			}
			return nil
		},
	}
	cmd.Flags().Int("top-k", 0, "Number of results (server default when 0)")
	cmd.Flags().Bool("route", false, "Rank nodes only")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show lattice totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient(cmd).Stats()
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "nodes:       %d\n", st.Nodes)
			fmt.Fprintf(cmd.OutOrStdout(), "items:       %d\n", st.Items)
			fmt.Fprintf(cmd.OutOrStdout(), "compressed:  %d (%.0f%%)\n", st.CompressedNodes, st.CompressedFraction*100)
			fmt.Fprintf(cmd.OutOrStdout(), "size:        %d bytes\n", st.SizeEstimate)
			fmt.Fprintf(cmd.OutOrStdout(), "dimension:   %d\n", st.Dimension)
			return nil
		},
	}
}

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance pass on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient(cmd).Maintenance()
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "visited %d, compressed %d, pruned %d, failed %d in %s\n",
				report.Visited, len(report.Compressed), len(report.Pruned), report.Failed, report.Duration)
			return nil
		},
	}
}
