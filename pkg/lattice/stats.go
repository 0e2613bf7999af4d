package lattice

import (
	"github.com/sanonone/lattice/pkg/metrics"
	"github.com/sanonone/lattice/pkg/node"
)

// Stats aggregates the live nodes.
type Stats struct {
	Nodes              int     `json:"nodes"`
	Items              int     `json:"items"`
	CompressedNodes    int     `json:"compressedNodes"`
	CompressedFraction float64 `json:"compressedFraction"`
	SizeEstimate       int64   `json:"sizeEstimate"`
	Dimension          int     `json:"dimension"`
	Config             Config  `json:"config"`
}

// NodeStatus is the per-node view returned by Status.
type NodeStatus struct {
	ID               string   `json:"id"`
	Items            int      `json:"items"`
	Utilization      float64  `json:"utilization"`
	Energy           float64  `json:"energy"`
	Compressed       bool     `json:"compressed"`
	CompressionRatio *float64 `json:"compressionRatio"`
	SizeEstimate     int64    `json:"sizeEstimate"`
	LastAccess       int64    `json:"lastAccess"`
}

// Status is Stats plus one entry per live node in registration order.
type Status struct {
	Stats
	PerNode []NodeStatus `json:"perNode"`
}

// Stats returns lattice-wide totals. It has no side effects besides
// refreshing the exported gauges.
func (m *Manager) Stats() Stats {
	st := Stats{Dimension: m.Dimension(), Config: m.cfg}
	for _, tn := range m.Nodes() {
		meta := tn.Meta()
		st.Nodes++
		st.Items += meta.Items
		st.SizeEstimate += meta.SizeEstimate
		if meta.Compressed {
			st.CompressedNodes++
		}
	}
	if st.Nodes > 0 {
		st.CompressedFraction = float64(st.CompressedNodes) / float64(st.Nodes)
	}
	setGauges(st)
	return st
}

// Status returns Stats with a per-node breakdown.
func (m *Manager) Status() Status {
	out := Status{Stats: m.Stats()}
	for _, tn := range m.Nodes() {
		meta := tn.Meta()
		out.PerNode = append(out.PerNode, NodeStatus{
			ID:               meta.ID,
			Items:            meta.Items,
			Utilization:      float64(meta.Items) / float64(m.cfg.CapacityPerTN),
			Energy:           meta.Energy,
			Compressed:       meta.Compressed,
			CompressionRatio: meta.CompressionRatio,
			SizeEstimate:     meta.SizeEstimate,
			LastAccess:       meta.LastAccess,
		})
	}
	return out
}

func refreshGauges(nodes []*node.Node) {
	var st Stats
	for _, tn := range nodes {
		meta := tn.Meta()
		st.Nodes++
		st.Items += meta.Items
		if meta.Compressed {
			st.CompressedNodes++
		}
	}
	setGauges(st)
}

func setGauges(st Stats) {
	metrics.Nodes.Set(float64(st.Nodes))
	metrics.Items.Set(float64(st.Items))
	metrics.CompressedNodes.Set(float64(st.CompressedNodes))
}
