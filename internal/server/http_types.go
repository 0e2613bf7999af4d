package server

import (
	"encoding/json"

	"github.com/sanonone/lattice/pkg/lattice"
	"github.com/sanonone/lattice/pkg/node"
)

// AddItemRequest is the body of POST /items and POST /nodes/{id}/items.
type AddItemRequest struct {
	ID        string          `json:"id,omitempty"`
	Embedding []float64       `json:"embedding"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Score     *float64        `json:"score,omitempty"`
}

func (r AddItemRequest) item() node.Item {
	return node.Item{
		ID:        r.ID,
		Embedding: r.Embedding,
		Payload:   r.Payload,
		Metadata:  r.Metadata,
		Score:     r.Score,
	}
}

// AddItemResponse returns the id of the stored item.
type AddItemResponse struct {
	ID string `json:"id"`
}

// NodeResponse identifies a node.
type NodeResponse struct {
	ID string `json:"id"`
}

// NodeListResponse is the body of GET /nodes.
type NodeListResponse struct {
	Nodes []lattice.NodeStatus `json:"nodes"`
}

// CompressRequest is the optional body of POST /nodes/{id}/compress. Without
// a threshold the configured one is used.
type CompressRequest struct {
	Threshold *float64 `json:"threshold,omitempty"`
}

// SemanticLinkRequest is the body of POST /nodes/{id}/links/semantic.
type SemanticLinkRequest struct {
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// TemporalLinkRequest is the body of POST /nodes/{id}/links/temporal.
type TemporalLinkRequest struct {
	Target string `json:"target"`
}

// NeighborsResponse is the body of GET /nodes/{id}/neighbors.
type NeighborsResponse struct {
	Neighbors []node.Neighbor `json:"neighbors"`
}

// SearchRequest is the body of POST /search and POST /route.
type SearchRequest struct {
	Embedding []float64 `json:"embedding"`
	TopK      int       `json:"top_k,omitempty"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Results []lattice.Hit `json:"results"`
}

// RouteResponse is the body returned by POST /route.
type RouteResponse struct {
	Routes []lattice.Route `json:"routes"`
}

// TaskResponse is returned when an operation is started asynchronously.
type TaskResponse struct {
	TaskID string `json:"task_id"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
