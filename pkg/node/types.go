package node

import (
	"encoding/json"

	"github.com/sanonone/lattice/pkg/core/quantize"
)

// File names inside a node directory.
const (
	ItemsFile      = "items.jsonl"
	MetaFile       = "meta.json"
	LinksFile      = "links.json"
	CompressedFile = "compressed.json"
)

// Item is one stored (embedding, payload) pair. Items are append-only: once
// written they are never modified or moved to another node.
type Item struct {
	ID         string          `json:"id"`
	Embedding  []float64       `json:"embedding"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   map[string]any  `json:"metadata"`
	Score      *float64        `json:"score"` // 1.0 when not given
	LastAccess int64           `json:"lastAccess"` // unix ms
}

// DefaultScore is the score of an item stored without one.
const DefaultScore = 1.0

// ScoreValue returns the item's score, DefaultScore when unset.
func (it Item) ScoreValue() float64 {
	if it.Score == nil {
		return DefaultScore
	}
	return *it.Score
}

// Meta is the persisted state of a node, stored in meta.json. Timestamps are
// unix milliseconds.
type Meta struct {
	ID               string    `json:"id"`
	Items            int       `json:"items"`
	SizeEstimate     int64     `json:"sizeEstimate"`
	Centroid         []float64 `json:"centroid"`
	Compressed       bool      `json:"compressed"`
	CompressionRatio *float64  `json:"compressionRatio"`
	Created          int64     `json:"created"`
	LastAccess       int64     `json:"lastAccess"`
	LastMaintenance  int64     `json:"lastMaintenance"`
	Energy           float64   `json:"energy"`
	Active           bool      `json:"active"`
}

// SemanticEdge is a weighted directed edge to another node.
type SemanticEdge struct {
	Weight  float64 `json:"weight"`
	Created int64   `json:"created"`
}

// TemporalEdge counts how often another node was seen together with this one.
type TemporalEdge struct {
	Count    int   `json:"count"`
	LastSeen int64 `json:"lastSeen"`
}

// Links is the small link graph around a node, stored in links.json.
type Links struct {
	Parent   *string                 `json:"parent"`
	Children []string                `json:"children"`
	Semantic map[string]SemanticEdge `json:"semantic"`
	Temporal map[string]TemporalEdge `json:"temporal"`
}

func newLinks() Links {
	return Links{
		Children: []string{},
		Semantic: make(map[string]SemanticEdge),
		Temporal: make(map[string]TemporalEdge),
	}
}

func (l *Links) normalize() {
	if l.Children == nil {
		l.Children = []string{}
	}
	if l.Semantic == nil {
		l.Semantic = make(map[string]SemanticEdge)
	}
	if l.Temporal == nil {
		l.Temporal = make(map[string]TemporalEdge)
	}
}

func (l Links) clone() Links {
	out := newLinks()
	if l.Parent != nil {
		p := *l.Parent
		out.Parent = &p
	}
	out.Children = append(out.Children, l.Children...)
	for k, v := range l.Semantic {
		out.Semantic[k] = v
	}
	for k, v := range l.Temporal {
		out.Temporal[k] = v
	}
	return out
}

// Artifact is the lossy compressed form of a node, stored in compressed.json.
// Payloads and quantized embeddings follow the original item order. IDs,
// Metadata and Scores are additive fields so the quantized form can be
// searched on its own; Metadata and Scores are only written when some item
// carries a non-default value.
type Artifact struct {
	Centroids [2][]float64      `json:"centroids"`
	Labels    []int             `json:"labels"`
	Quantized quantize.Codes    `json:"quantized"`
	Payloads  []json.RawMessage `json:"payloads"`
	IDs       []string          `json:"ids,omitempty"`
	Metadata  []map[string]any  `json:"metadata,omitempty"`
	Scores    []float64         `json:"scores,omitempty"`
}

// CompressStatus is the outcome of a compression attempt.
type CompressStatus string

const (
	AlreadyCompressed CompressStatus = "already_compressed"
	TooFewItems       CompressStatus = "too_few_items"
	TooDiverse        CompressStatus = "too_diverse"
	Compressed        CompressStatus = "success"
)

// CompressResult describes what Compress did. AvgSimilarity is set for
// TooDiverse and Compressed; the sizes and Ratio only for Compressed.
type CompressResult struct {
	Status         CompressStatus `json:"status"`
	AvgSimilarity  float64        `json:"avgSimilarity,omitempty"`
	Ratio          float64        `json:"ratio,omitempty"`
	OriginalSize   int64          `json:"originalSize,omitempty"`
	CompressedSize int64          `json:"compressedSize,omitempty"`
}

// Neighbor is a semantic link target returned by Neighbors.
type Neighbor struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}
