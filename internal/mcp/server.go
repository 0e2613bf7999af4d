// Package mcp exposes a lattice as Model Context Protocol tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/lattice/pkg/lattice"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

func NewMCPServer(m *lattice.Manager) *mcp.Server {
	service := NewService(m)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Transmitter Lattice",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "store_item",
		Description: "Store an embedding with its payload. It is routed to the most similar transmitter node unless node_id is given.",
	}, service.StoreItem)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "search_items",
		Description: "Two-phase similarity search: best nodes by centroid, then their items.",
	}, service.Search)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "route_query",
		Description: "Rank transmitter nodes by centroid similarity to an embedding.",
	}, service.Route)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "compress_node",
		Description: "Compress a transmitter node when its items are similar enough.",
	}, service.Compress)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "link_nodes",
		Description: "Link two transmitter nodes. kind=semantic upserts a weighted edge, kind=temporal records a co-occurrence.",
	}, service.Link)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "lattice_stats",
		Description: "Report node, item and compression totals.",
	}, service.Stats)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_maintenance",
		Description: "Run one maintenance pass: auto compression, energy decay and pruning.",
	}, service.Maintenance)

	return s
}
