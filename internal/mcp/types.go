package mcp

// --- Tool Arguments ---

type StoreItemArgs struct {
	Embedding []float64      `json:"embedding" jsonschema:"The embedding vector of the item"`
	Payload   any            `json:"payload,omitempty" jsonschema:"Arbitrary JSON payload kept with the item (e.g. the source text)"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"Optional key/value metadata"`
	ID        string         `json:"id,omitempty" jsonschema:"Item id. Generated when empty"`
	Score     *float64       `json:"score,omitempty" jsonschema:"Item score. Defaults to 1.0"`
	NodeID    string         `json:"node_id,omitempty" jsonschema:"Store into this transmitter node instead of routing by similarity"`
}

type StoreItemResult struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

type SearchArgs struct {
	Embedding []float64 `json:"embedding" jsonschema:"The query embedding"`
	TopK      int       `json:"top_k,omitempty" jsonschema:"Max number of results (server default when 0)"`
}

type SearchHit struct {
	NodeID  string         `json:"node_id"`
	ItemID  string         `json:"item_id,omitempty"`
	Score   float64        `json:"score"`
	Payload any            `json:"payload,omitempty"`
	Meta    map[string]any `json:"metadata,omitempty"`
}

type SearchResult struct {
	Results []SearchHit `json:"results"`
}

type RouteResult struct {
	Nodes []RoutedNode `json:"nodes"`
}

type RoutedNode struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

type StatsArgs struct {
	PerNode bool `json:"per_node,omitempty" jsonschema:"Include one entry per transmitter node"`
}

type NodeSummary struct {
	NodeID      string  `json:"node_id"`
	Items       int     `json:"items"`
	Utilization float64 `json:"utilization"`
	Energy      float64 `json:"energy"`
	Compressed  bool    `json:"compressed"`
}

type StatsResult struct {
	Nodes              int           `json:"nodes"`
	Items              int           `json:"items"`
	CompressedNodes    int           `json:"compressed_nodes"`
	CompressedFraction float64       `json:"compressed_fraction"`
	SizeEstimate       int64         `json:"size_estimate"`
	Dimension          int           `json:"dimension"`
	PerNode            []NodeSummary `json:"per_node,omitempty"`
}

type MaintenanceArgs struct{}

type MaintenanceResult struct {
	Visited    int      `json:"visited"`
	Compressed []string `json:"compressed"`
	Pruned     []string `json:"pruned"`
	Failed     int      `json:"failed"`
}

type CompressArgs struct {
	NodeID    string   `json:"node_id" jsonschema:"The transmitter node to compress"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum average pairwise similarity (configured value when omitted)"`
}

type CompressResult struct {
	Status        string  `json:"status"`
	AvgSimilarity float64 `json:"avg_similarity,omitempty"`
	Ratio         float64 `json:"ratio,omitempty"`
}

const (
	LinkSemantic = "semantic"
	LinkTemporal = "temporal"
)

type LinkArgs struct {
	SourceID string  `json:"source_id" jsonschema:"Source transmitter node"`
	TargetID string  `json:"target_id" jsonschema:"Target transmitter node"`
	Kind     string  `json:"kind" jsonschema:"Link kind: semantic (weighted edge) or temporal (co-occurrence count)"`
	Weight   float64 `json:"weight,omitempty" jsonschema:"Weight of a semantic link"`
}

type LinkResult struct {
	Kind string `json:"kind"`
}
