package lattice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/lattice/pkg/node"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestManager(t *testing.T, dir string, cfg Config, clock *testClock) *Manager {
	t.Helper()
	if clock == nil {
		clock = newTestClock()
	}
	m, err := Open(dir, cfg, WithLogger(quietLogger), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func item(emb ...float64) node.Item {
	return node.Item{Embedding: emb, Payload: json.RawMessage(`null`)}
}

func TestOpenEmptyCreatesOneNode(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	nodes := m.Nodes()
	require.Len(t, nodes, 1)
	assert.Nil(t, nodes[0].Centroid())
	assert.Zero(t, m.Dimension())
}

func TestColdStartRouting(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)

	emb := []float64{0.3, -0.2, 0.9}
	_, err := m.AddItemToBest(item(emb...))
	require.NoError(t, err)

	nodes := m.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, emb, nodes[0].Centroid())
	assert.Equal(t, 3, m.Dimension())
}

func TestColdStartPicksLeastUtilized(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	second, err := m.CreateNode()
	require.NoError(t, err)

	_, err = m.AddItemToBest(item(1, 0))
	require.NoError(t, err)

	// both empty: the first registered wins
	first := m.Nodes()[0]
	assert.Equal(t, 1, first.Len())

	_, err = m.AddItemToBest(item(0, 1))
	require.NoError(t, err)
	// one node now has a centroid, so routing is by similarity
	assert.Equal(t, 2, first.Len())
	tn, err := m.Node(second)
	require.NoError(t, err)
	assert.Zero(t, tn.Len())
}

func TestRoutingPrefersMostSimilarNode(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	a := m.Nodes()[0].ID()
	b, err := m.CreateNode()
	require.NoError(t, err)

	_, err = m.AddItem(a, item(1, 0))
	require.NoError(t, err)
	_, err = m.AddItem(b, item(0, 1))
	require.NoError(t, err)

	_, err = m.AddItemToBest(item(0.1, 0.9))
	require.NoError(t, err)

	tb, err := m.Node(b)
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
}

func TestRoutingTieKeepsFirstRegistered(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	first := m.Nodes()[0]
	secondID, err := m.CreateNode()
	require.NoError(t, err)

	_, err = m.AddItem(secondID, item(1, 1))
	require.NoError(t, err)
	_, err = m.AddItem(first.ID(), item(1, 1))
	require.NoError(t, err)

	_, err = m.AddItemToBest(item(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())
}

func TestOverflowCreatesNode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityPerTN = 2
	m := openTestManager(t, t.TempDir(), cfg, nil)

	for range 3 {
		_, err := m.AddItemToBest(item(1, 0))
		require.NoError(t, err)
	}
	nodes := m.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, 2, nodes[0].Len())
	assert.Equal(t, 1, nodes[1].Len())
}

func TestOverflowRespectsGlobalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityPerTN = 2
	cfg.GlobalMaxTNs = 1
	m := openTestManager(t, t.TempDir(), cfg, nil)

	for range 5 {
		_, err := m.AddItemToBest(item(1, 0))
		require.NoError(t, err)
	}
	nodes := m.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, 5, nodes[0].Len())
}

func TestValidation(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)

	_, err := m.AddItemToBest(item())
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.AddItemToBest(item(math.Inf(1), 0))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.AddItemToBest(item(1, 0, 0))
	require.NoError(t, err)

	_, err = m.AddItemToBest(item(1, 0))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.HybridSearch([]float64{1, 0}, 5)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.RouteQueryEmb([]float64{math.NaN(), 0, 0}, 5)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.AddItem("tn-missing", item(1, 0, 0))
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// seedClusters builds three nodes around the x, y and z axes.
func seedClusters(t *testing.T, m *Manager) []string {
	t.Helper()
	ids := []string{m.Nodes()[0].ID()}
	for range 2 {
		id, err := m.CreateNode()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	axes := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for i, axis := range axes {
		for j := range 4 {
			emb := append([]float64(nil), axis...)
			emb[(i+1)%3] = 0.05 * float64(j)
			_, err := m.AddItem(ids[i], node.Item{ID: itemName(i, j), Embedding: emb})
			require.NoError(t, err)
		}
	}
	return ids
}

func itemName(cluster, n int) string {
	return string(rune('a'+cluster)) + string(rune('0'+n))
}

func TestRouteQueryEmb(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	ids := seedClusters(t, m)

	routes, err := m.RouteQueryEmb([]float64{0, 0.2, 1}, 2)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, ids[2], routes[0].NodeID)
	assert.Equal(t, ids[1], routes[1].NodeID)
	assert.GreaterOrEqual(t, routes[0].Score, routes[1].Score)

	routes, err = m.RouteQueryEmb([]float64{0, 0.2, 1}, 0)
	require.NoError(t, err)
	assert.Len(t, routes, 3)
}

func TestHybridSearchOrdering(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	ids := seedClusters(t, m)

	target := m.Nodes()[1].Items()[2]
	hits, err := m.HybridSearch(target.Embedding, 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)

	assert.Equal(t, target.ID, hits[0].Item.ID)
	assert.Equal(t, ids[1], hits[0].NodeID)
	assert.InDelta(t, 1.0, hits[0].ItemScore, 1e-12)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, h := range hits {
		assert.InDelta(t, (h.NodeScore+h.ItemScore)/2, h.Score, 1e-12)
	}

	all, err := m.HybridSearch(target.Embedding, 100)
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestSearchWithoutHybrid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridRetrieval = false
	m := openTestManager(t, t.TempDir(), cfg, nil)
	ids := seedClusters(t, m)

	_, err := m.HybridSearch([]float64{1, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrHybridDisabled)

	hits, err := m.Search([]float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, ids[0], hits[0].NodeID)
	assert.Nil(t, hits[0].Item)
	assert.Equal(t, hits[0].NodeScore, hits[0].Score)
}

func TestPruningFloor(t *testing.T) {
	tests := []struct {
		name       string
		nodes      int
		idle       int
		wantPruned int
	}{
		{"ten nodes are protected", 10, 10, 0},
		{"eleventh idle node is pruned", 11, 1, 1},
		{"count is re-read after each prune", 11, 11, 1},
		{"twelve nodes two idle", 12, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			m := openTestManager(t, t.TempDir(), DefaultConfig(), clock)
			for len(m.Nodes()) < tt.nodes {
				_, err := m.CreateNode()
				require.NoError(t, err)
			}

			clock.Advance(100 * time.Hour)
			// touch the nodes that must stay active
			for _, tn := range m.Nodes()[tt.idle:] {
				_, err := tn.AddItem(item(1, 0))
				require.NoError(t, err)
			}

			report, err := m.MaintenanceTick()
			require.NoError(t, err)
			assert.Equal(t, tt.nodes, report.Visited)
			assert.Len(t, report.Pruned, tt.wantPruned)
			assert.Zero(t, report.Failed)
			assert.Len(t, m.Nodes(), tt.nodes-tt.wantPruned)

			for _, id := range report.Pruned {
				_, err := m.Node(id)
				assert.ErrorIs(t, err, ErrNodeNotFound)
			}
		})
	}
}

func TestPrunedNodesStayOnDiskInactive(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	m := openTestManager(t, dir, DefaultConfig(), clock)
	for range 10 {
		_, err := m.CreateNode()
		require.NoError(t, err)
	}
	clock.Advance(100 * time.Hour)
	for _, tn := range m.Nodes()[1:] {
		_, err := tn.AddItem(item(0, 1))
		require.NoError(t, err)
	}

	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	require.Len(t, report.Pruned, 1)
	require.NoError(t, m.Close())

	var meta node.Meta
	data, err := os.ReadFile(filepath.Join(dir, report.Pruned[0], node.MetaFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.False(t, meta.Active)
	assert.InDelta(t, 0.1, meta.Energy, 1e-9)

	reopened := openTestManager(t, dir, DefaultConfig(), clock)
	assert.Len(t, reopened.Nodes(), 10)
	_, err = reopened.Node(report.Pruned[0])
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestDeletePrunedRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	cfg := DefaultConfig()
	cfg.DeletePruned = true
	cfg.PruneMinNodes = 1
	m := openTestManager(t, dir, cfg, clock)
	_, err := m.CreateNode()
	require.NoError(t, err)

	clock.Advance(200 * time.Hour)
	_, err = m.Nodes()[1].AddItem(item(1, 1))
	require.NoError(t, err)

	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	require.Len(t, report.Pruned, 1)
	prunedDir := filepath.Join(dir, report.Pruned[0])

	// Removed on the following tick, once in-flight callers had a chance to finish.
	_, err = os.Stat(prunedDir)
	require.NoError(t, err)
	_, err = m.MaintenanceTick()
	require.NoError(t, err)
	_, err = os.Stat(prunedDir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPrunedNodeDrainsInFlightWrites(t *testing.T) {
	clock := newTestClock()
	m := openTestManager(t, t.TempDir(), DefaultConfig(), clock)
	for range 10 {
		_, err := m.CreateNode()
		require.NoError(t, err)
	}
	clock.Advance(100 * time.Hour)
	victim := m.Nodes()[0]
	for _, tn := range m.Nodes()[1:] {
		_, err := tn.AddItem(item(0, 1))
		require.NoError(t, err)
	}

	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	require.Equal(t, []string{victim.ID()}, report.Pruned)

	// A caller that fetched the node before the prune still completes.
	_, err = victim.AddItem(item(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, victim.Len())
	assert.False(t, victim.Meta().Active)

	_, err = m.MaintenanceTick()
	require.NoError(t, err)
	_, err = victim.AddItem(item(1, 0))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestOpenRemovesInactiveNodesWhenDeletingPruned(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DeletePruned = true
	m := openTestManager(t, dir, cfg, nil)
	id, err := m.CreateNode()
	require.NoError(t, err)
	tn, err := m.Node(id)
	require.NoError(t, err)
	require.NoError(t, tn.Deactivate())
	require.NoError(t, m.Close())

	reopened := openTestManager(t, dir, cfg, nil)
	assert.Len(t, reopened.Nodes(), 1)
	_, err = os.Stat(filepath.Join(dir, id))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMaintenanceDecaysAndCompresses(t *testing.T) {
	clock := newTestClock()
	m := openTestManager(t, t.TempDir(), DefaultConfig(), clock)
	tn := m.Nodes()[0]
	for i := range 10 {
		_, err := m.AddItemToBest(item(1, 0.01*float64(i)))
		require.NoError(t, err)
	}

	clock.Advance(50 * time.Hour)
	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	assert.Equal(t, []string{tn.ID()}, report.Compressed)
	assert.Empty(t, report.Pruned)
	assert.True(t, tn.IsCompressed())
	assert.InDelta(t, 0.5, tn.Energy(), 1e-9)

	// compression never repeats
	report, err = m.MaintenanceTick()
	require.NoError(t, err)
	assert.Empty(t, report.Compressed)
}

func TestMaintenanceSkipsCompressionWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	off := false
	cfg.EnableCompression = &off
	m := openTestManager(t, t.TempDir(), cfg, nil)
	for range 12 {
		_, err := m.AddItemToBest(item(1, 1))
		require.NoError(t, err)
	}
	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	assert.Empty(t, report.Compressed)
	assert.False(t, m.Nodes()[0].IsCompressed())
	assert.False(t, m.Config().AutoCompress)
}

func TestStats(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	ids := seedClusters(t, m)

	res, err := m.Nodes()[0].Compress(0.6)
	require.NoError(t, err)
	require.Equal(t, node.Compressed, res.Status)

	st := m.Stats()
	assert.Equal(t, 3, st.Nodes)
	assert.Equal(t, 12, st.Items)
	assert.Equal(t, 1, st.CompressedNodes)
	assert.InDelta(t, 1.0/3, st.CompressedFraction, 1e-12)
	assert.Positive(t, st.SizeEstimate)
	assert.Equal(t, 3, st.Dimension)
	assert.Equal(t, 100, st.Config.CapacityPerTN)

	status := m.Status()
	require.Len(t, status.PerNode, 3)
	assert.Equal(t, ids[0], status.PerNode[0].ID)
	assert.True(t, status.PerNode[0].Compressed)
	assert.InDelta(t, 0.04, status.PerNode[1].Utilization, 1e-12)
}

func TestLinks(t *testing.T) {
	m := openTestManager(t, t.TempDir(), DefaultConfig(), nil)
	a := m.Nodes()[0].ID()
	b, err := m.CreateNode()
	require.NoError(t, err)

	require.NoError(t, m.AddSemanticLink(a, b, 0.8))
	require.NoError(t, m.AddTemporalLink(a, b))
	assert.ErrorIs(t, m.AddSemanticLink(a, "tn-missing", 1), ErrNodeNotFound)

	neighbors, err := m.Neighbors(a, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []node.Neighbor{{ID: b, Weight: 0.8}}, neighbors)

	neighbors, err = m.Neighbors(b, 0)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestReopenKeepsOrderAndItems(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	m := openTestManager(t, dir, DefaultConfig(), clock)
	var want []string
	want = append(want, m.Nodes()[0].ID())
	for range 4 {
		clock.Advance(time.Second)
		id, err := m.CreateNode()
		require.NoError(t, err)
		want = append(want, id)
	}
	for _, id := range want {
		_, err := m.AddItem(id, item(1, 2, 3))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	// broken and foreign directories are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tn-broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tn-broken", node.MetaFile), []byte("{oops"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scratch"), 0755))

	reopened := openTestManager(t, dir, DefaultConfig(), clock)
	var got []string
	for _, tn := range reopened.Nodes() {
		got = append(got, tn.ID())
		assert.Equal(t, 1, tn.Len())
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, reopened.Dimension())
}

func TestQuantizedSearchAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CompressedSearch = SearchQuantized
	m := openTestManager(t, dir, cfg, nil)
	for i := range 10 {
		_, err := m.AddItemToBest(node.Item{ID: itemName(0, i), Embedding: []float64{0.9, 0.05 * float64(i)}})
		require.NoError(t, err)
	}
	report, err := m.MaintenanceTick()
	require.NoError(t, err)
	require.Len(t, report.Compressed, 1)
	require.NoError(t, m.Close())

	reopened := openTestManager(t, dir, cfg, nil)
	hits, err := reopened.HybridSearch([]float64{0.9, 0.45}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, itemName(0, 9), hits[0].Item.ID)
}

func TestClosedManager(t *testing.T) {
	m, err := Open(t.TempDir(), DefaultConfig(), WithLogger(quietLogger))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.AddItemToBest(item(1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.CreateNode()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.MaintenanceTick()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold", func(c *Config) { c.CompressionThreshold = 1.5 }},
		{"capacity", func(c *Config) { c.CapacityPerTN = 0 }},
		{"max nodes", func(c *Config) { c.GlobalMaxTNs = -1 }},
		{"floor", func(c *Config) { c.EnergyFloor = 0 }},
		{"top k", func(c *Config) { c.SearchTopK = 0 }},
		{"compressed search", func(c *Config) { c.CompressedSearch = "zip" }},
		{"min items", func(c *Config) { c.AutoCompressMinItems = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrValidation)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConcurrentWritesMaintenanceAndSearch(t *testing.T) {
	const writers, perWriter = 8, 20
	dir := t.TempDir()
	m := openTestManager(t, dir, DefaultConfig(), nil)

	var added atomic.Int64
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_, err := m.AddItemToBest(item(float64(w+1), float64(i%5+1), 1))
				if assert.NoError(t, err) {
					added.Add(1)
				}
			}
		}()
	}

	stop := make(chan struct{})
	background := make(chan struct{})
	go func() {
		defer close(background)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, err := m.MaintenanceTick()
			assert.NoError(t, err)
			_, err = m.HybridSearch([]float64{1, 1, 1}, 5)
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	close(stop)
	<-background

	require.EqualValues(t, writers*perWriter, added.Load())
	assert.EqualValues(t, added.Load(), m.Stats().Items)
	require.NoError(t, m.Close())

	reopened := openTestManager(t, dir, DefaultConfig(), nil)
	total := 0
	for _, tn := range reopened.Nodes() {
		data, err := os.ReadFile(filepath.Join(tn.Dir(), node.ItemsFile))
		require.NoError(t, err)
		lines := strings.Count(string(data), "\n")
		assert.Equal(t, tn.Len(), lines, "node %s", tn.ID())
		total += lines
	}
	assert.EqualValues(t, added.Load(), total)
	assert.EqualValues(t, added.Load(), reopened.Stats().Items)
}
