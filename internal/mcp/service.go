package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/lattice/pkg/lattice"
	"github.com/sanonone/lattice/pkg/node"
)

type Service struct {
	lattice *lattice.Manager
}

func NewService(m *lattice.Manager) *Service {
	return &Service{lattice: m}
}

// --- Tool Handlers ---

func (s *Service) StoreItem(ctx context.Context, req *mcp.CallToolRequest, args StoreItemArgs) (*mcp.CallToolResult, StoreItemResult, error) {
	item := node.Item{
		ID:        args.ID,
		Embedding: args.Embedding,
		Metadata:  args.Metadata,
		Score:     args.Score,
	}
	if args.Payload != nil {
		raw, err := json.Marshal(args.Payload)
		if err != nil {
			return nil, StoreItemResult{}, fmt.Errorf("invalid payload: %w", err)
		}
		item.Payload = raw
	}

	var (
		id  string
		err error
	)
	if args.NodeID != "" {
		id, err = s.lattice.AddItem(args.NodeID, item)
	} else {
		id, err = s.lattice.AddItemToBest(item)
	}
	if err != nil {
		return nil, StoreItemResult{}, err
	}
	return nil, StoreItemResult{ItemID: id, Status: "stored"}, nil
}

func (s *Service) Search(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchResult, error) {
	hits, err := s.lattice.Search(args.Embedding, args.TopK)
	if err != nil {
		return nil, SearchResult{}, err
	}

	out := SearchResult{Results: make([]SearchHit, 0, len(hits))}
	for _, h := range hits {
		hit := SearchHit{NodeID: h.NodeID, Score: h.Score}
		if h.Item != nil {
			hit.ItemID = h.Item.ID
			hit.Meta = h.Item.Metadata
			if len(h.Item.Payload) > 0 {
				if err := json.Unmarshal(h.Item.Payload, &hit.Payload); err != nil {
					return nil, SearchResult{}, fmt.Errorf("decode payload of item %s: %w", h.Item.ID, err)
				}
			}
		}
		out.Results = append(out.Results, hit)
	}
	return nil, out, nil
}

func (s *Service) Route(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, RouteResult, error) {
	routes, err := s.lattice.RouteQueryEmb(args.Embedding, args.TopK)
	if err != nil {
		return nil, RouteResult{}, err
	}
	out := RouteResult{Nodes: make([]RoutedNode, 0, len(routes))}
	for _, r := range routes {
		out.Nodes = append(out.Nodes, RoutedNode{NodeID: r.NodeID, Score: r.Score})
	}
	return nil, out, nil
}

func (s *Service) Compress(ctx context.Context, req *mcp.CallToolRequest, args CompressArgs) (*mcp.CallToolResult, CompressResult, error) {
	threshold := s.lattice.Config().CompressionThreshold
	if args.Threshold != nil {
		threshold = *args.Threshold
	}
	res, err := s.lattice.Compress(args.NodeID, threshold)
	if err != nil {
		return nil, CompressResult{}, err
	}
	return nil, CompressResult{
		Status:        string(res.Status),
		AvgSimilarity: res.AvgSimilarity,
		Ratio:         res.Ratio,
	}, nil
}

func (s *Service) Link(ctx context.Context, req *mcp.CallToolRequest, args LinkArgs) (*mcp.CallToolResult, LinkResult, error) {
	var err error
	switch args.Kind {
	case LinkSemantic:
		err = s.lattice.AddSemanticLink(args.SourceID, args.TargetID, args.Weight)
	case LinkTemporal:
		err = s.lattice.AddTemporalLink(args.SourceID, args.TargetID)
	default:
		return nil, LinkResult{}, fmt.Errorf("%w: unknown link kind %q (want %s or %s)", lattice.ErrValidation, args.Kind, LinkSemantic, LinkTemporal)
	}
	if err != nil {
		return nil, LinkResult{}, err
	}
	return nil, LinkResult{Kind: args.Kind}, nil
}

func (s *Service) Stats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, StatsResult, error) {
	st := s.lattice.Status()
	out := StatsResult{
		Nodes:              st.Nodes,
		Items:              st.Items,
		CompressedNodes:    st.CompressedNodes,
		CompressedFraction: st.CompressedFraction,
		SizeEstimate:       st.SizeEstimate,
		Dimension:          st.Dimension,
	}
	if args.PerNode {
		for _, n := range st.PerNode {
			out.PerNode = append(out.PerNode, NodeSummary{
				NodeID:      n.ID,
				Items:       n.Items,
				Utilization: n.Utilization,
				Energy:      n.Energy,
				Compressed:  n.Compressed,
			})
		}
	}
	return nil, out, nil
}

func (s *Service) Maintenance(ctx context.Context, req *mcp.CallToolRequest, args MaintenanceArgs) (*mcp.CallToolResult, MaintenanceResult, error) {
	report, err := s.lattice.MaintenanceTick()
	if err != nil {
		return nil, MaintenanceResult{}, err
	}
	return nil, MaintenanceResult{
		Visited:    report.Visited,
		Compressed: report.Compressed,
		Pruned:     report.Pruned,
		Failed:     report.Failed,
	}, nil
}
