package lattice

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/lattice/pkg/core/vecmath"
	"github.com/sanonone/lattice/pkg/metrics"
	"github.com/sanonone/lattice/pkg/node"
)

// Route is a node ranked by centroid similarity to a query.
type Route struct {
	NodeID string     `json:"nodeId"`
	Score  float64    `json:"score"`
	Node   *node.Node `json:"-"`
}

// Hit is one search result. For coarse-only results Item is nil and Score is
// the node score.
type Hit struct {
	NodeID    string     `json:"nodeId"`
	Item      *node.Item `json:"item,omitempty"`
	NodeScore float64    `json:"nodeScore"`
	ItemScore float64    `json:"itemScore"`
	Score     float64    `json:"score"`
}

// RouteQueryEmb ranks the live nodes that have a centroid by cosine
// similarity to query and returns the best topK. topK <= 0 uses the
// configured route_top_k.
func (m *Manager) RouteQueryEmb(query []float64, topK int) ([]Route, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("route").Observe(time.Since(start).Seconds())
	}()

	if topK <= 0 {
		topK = m.cfg.RouteTopK
	}
	if err := m.validate(query); err != nil {
		return nil, err
	}
	nodes, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return rankNodes(query, nodes, topK)
}

func rankNodes(query []float64, nodes []*node.Node, topK int) ([]Route, error) {
	routes := make([]Route, 0, len(nodes))
	for _, tn := range nodes {
		c := tn.Centroid()
		if c == nil {
			continue
		}
		score, err := vecmath.Cosine(query, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		routes = append(routes, Route{NodeID: tn.ID(), Score: score, Node: tn})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Score > routes[j].Score
	})
	if len(routes) > topK {
		routes = routes[:topK]
	}
	return routes, nil
}

// HybridSearch runs the two-phase search: the min(2*topK, 20) best nodes by
// centroid, then every item of those nodes scored against query. The final
// score is the mean of node and item score; results are sorted by it,
// descending, with equal scores keeping node rank then insertion order.
// topK <= 0 uses the configured search_top_k.
func (m *Manager) HybridSearch(query []float64, topK int) ([]Hit, error) {
	if !m.cfg.HybridRetrieval {
		return nil, ErrHybridDisabled
	}
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("hybrid").Observe(time.Since(start).Seconds())
	}()

	if topK <= 0 {
		topK = m.cfg.SearchTopK
	}
	if err := m.validate(query); err != nil {
		return nil, err
	}
	nodes, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	routes, err := rankNodes(query, nodes, min(2*topK, 20))
	if err != nil {
		return nil, err
	}

	perNode := make([][]Hit, len(routes))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, r := range routes {
		g.Go(func() error {
			items := r.Node.Items()
			hits := make([]Hit, 0, len(items))
			for j := range items {
				it := items[j]
				score, err := vecmath.Cosine(query, it.Embedding)
				if err != nil {
					return fmt.Errorf("item %s in %s: %w", it.ID, r.NodeID, err)
				}
				hits = append(hits, Hit{
					NodeID:    r.NodeID,
					Item:      &it,
					NodeScore: r.Score,
					ItemScore: score,
					Score:     (r.Score + score) / 2,
				})
			}
			perNode[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Hit
	for _, hits := range perNode {
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// Search answers a query with HybridSearch, or with node routes only when
// hybrid retrieval is disabled.
func (m *Manager) Search(query []float64, topK int) ([]Hit, error) {
	if m.cfg.HybridRetrieval {
		return m.HybridSearch(query, topK)
	}
	if topK <= 0 {
		topK = m.cfg.SearchTopK
	}
	routes, err := m.RouteQueryEmb(query, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(routes))
	for i, r := range routes {
		hits[i] = Hit{NodeID: r.NodeID, NodeScore: r.Score, Score: r.Score}
	}
	return hits, nil
}
