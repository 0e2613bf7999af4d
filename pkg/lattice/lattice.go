// Package lattice implements the Transmitter Manager: the registry of all
// transmitter nodes under a data directory, item routing, two-phase search
// and the periodic maintenance that compresses, decays and prunes nodes.
//
// Basic usage:
//
//	m, err := lattice.Open("./data", lattice.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	id, err := m.AddItemToBest(node.Item{Embedding: emb, Payload: payload})
//	hits, err := m.HybridSearch(query, 10)
package lattice

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/lattice/pkg/core/vecmath"
	"github.com/sanonone/lattice/pkg/metrics"
	"github.com/sanonone/lattice/pkg/node"
)

// NodeIDPrefix starts every generated node id and node directory name.
const NodeIDPrefix = "tn-"

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every live transmitter node of a data directory.
//
// All methods are safe for concurrent use. The registry is guarded by an
// RWMutex; each node serializes its own writes. A node removed by pruning
// stays open for operations that already hold it until the next maintenance
// tick or Close.
type Manager struct {
	dir string
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu     sync.RWMutex
	reg    *registry
	closed bool

	// draining holds pruned nodes that are no longer routable but may still
	// be in use by callers that fetched them before the prune.
	draining []drainingNode
	ticks    uint64

	// dim is the embedding dimension, fixed by config or learned from the
	// first stored vector.
	dim atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

// Open loads every node directory under dir and returns a ready Manager.
//
// Directories are loaded in parallel. A directory that cannot be read, or
// whose node was pruned, is logged and skipped. When nothing is loaded a
// single empty node is created.
func Open(dir string, cfg Config, opts ...Option) (*Manager, error) {
	cfg.ApplyAliases()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	m := &Manager{
		dir:  dir,
		cfg:  cfg,
		log:  slog.Default(),
		now:  time.Now,
		reg:  newRegistry(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.dim.Store(int64(cfg.Dimension))

	loaded, err := m.loadNodes()
	if err != nil {
		return nil, err
	}
	for _, tn := range loaded {
		m.reg.add(tn)
	}

	if m.reg.len() == 0 {
		if _, err := m.createNode("cold_start"); err != nil {
			return nil, err
		}
	}
	refreshGauges(m.reg.nodes())

	m.log.Info("Lattice opened", "dir", dir, "nodes", m.reg.len(), "dimension", m.dim.Load(), "vector_backend", vecmath.Backend())
	return m, nil
}

func (m *Manager) loadNodes() ([]*node.Node, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	slots := make([]*node.Node, len(entries))
	var g errgroup.Group
	g.SetLimit(8)
	for i, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		g.Go(func() error {
			tn, err := node.Open(path, m.nodeOptions())
			if errors.Is(err, node.ErrNoMeta) {
				m.log.Debug("Skipping directory without node meta", "path", path)
				return nil
			}
			if err != nil {
				m.log.Warn("Skipping unreadable node directory", "path", path, "error", err)
				return nil
			}
			if !tn.Meta().Active {
				if m.cfg.DeletePruned {
					m.log.Info("Removing pruned node directory", "tn", tn.ID())
					return tn.Destroy()
				}
				m.log.Debug("Skipping pruned node", "tn", tn.ID())
				tn.Close()
				return nil
			}
			slots[i] = tn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Warn("Failed to remove pruned node directory", "error", err)
	}

	var out []*node.Node
	seen := make(map[string]bool)
	for _, tn := range slots {
		if tn == nil {
			continue
		}
		id := tn.ID()
		if seen[id] {
			m.log.Warn("Skipping duplicate node id", "tn", id, "path", tn.Dir())
			tn.Close()
			continue
		}
		if c := tn.Centroid(); c != nil {
			want := int(m.dim.Load())
			if want != 0 && len(c) != want {
				m.log.Warn("Skipping node with mismatched dimension", "tn", id, "expected", want, "actual", len(c))
				tn.Close()
				continue
			}
			m.dim.CompareAndSwap(0, int64(len(c)))
		}
		seen[id] = true
		out = append(out, tn)
	}

	// Restore registration order across restarts.
	slices.SortStableFunc(out, func(a, b *node.Node) int {
		ma, mb := a.Meta(), b.Meta()
		if c := cmp.Compare(ma.Created, mb.Created); c != 0 {
			return c
		}
		return cmp.Compare(ma.ID, mb.ID)
	})
	return out, nil
}

func (m *Manager) nodeOptions() node.Options {
	return node.Options{
		SyncWrites:         m.cfg.SyncWrites,
		TruncateOnCompress: m.cfg.CompressedSearch == SearchQuantized,
		Now:                m.now,
	}
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Dir returns the data directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Dimension returns the embedding dimension, or 0 while it is still unknown.
func (m *Manager) Dimension() int {
	return int(m.dim.Load())
}

// Close stops the maintenance loop and closes every node. It is safe to call
// more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		m.closed = true
		var errs []error
		for _, tn := range m.reg.nodes() {
			errs = append(errs, tn.Close())
		}
		errs = append(errs, m.release(m.draining))
		m.draining = nil
		err = errors.Join(errs...)
	})
	return err
}

// CreateNode registers a new empty node and returns its id.
func (m *Manager) CreateNode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	tn, err := m.createNode("explicit")
	if err != nil {
		return "", err
	}
	return tn.ID(), nil
}

// createNode must be called with mu held for writing (or before the Manager
// is shared).
func (m *Manager) createNode(reason string) (*node.Node, error) {
	id := NodeIDPrefix + uuid.NewString()
	tn, err := node.Create(filepath.Join(m.dir, id), id, m.nodeOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	m.reg.add(tn)
	metrics.NodesCreated.WithLabelValues(reason).Inc()
	metrics.Nodes.Set(float64(m.reg.len()))
	m.log.Debug("Transmitter node created", "tn", id, "reason", reason)
	return tn, nil
}

// Node returns the live node with the given id.
func (m *Manager) Node(id string) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	tn, ok := m.reg.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return tn, nil
}

// Nodes returns the live nodes in registration order.
func (m *Manager) Nodes() []*node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.nodes()
}

// snapshot returns the live nodes or ErrClosed.
func (m *Manager) snapshot() ([]*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.reg.nodes(), nil
}

// validate checks a vector against the lattice dimension.
func (m *Manager) validate(v []float64) error {
	return node.ValidateEmbedding(v, int(m.dim.Load()))
}

// AddItem appends item to the node tnID, bypassing routing.
func (m *Manager) AddItem(tnID string, item node.Item) (string, error) {
	if err := m.validate(item.Embedding); err != nil {
		return "", err
	}
	tn, err := m.Node(tnID)
	if err != nil {
		return "", err
	}
	return m.store(tn, item)
}

// AddItemToBest routes item to the node whose centroid is most similar to its
// embedding and appends it there.
//
// Ties keep the earliest registered node. While no node has a centroid the
// least utilized node is used. When the chosen node is above the overflow
// utilization and the node cap is not reached, a fresh node takes the item.
func (m *Manager) AddItemToBest(item node.Item) (string, error) {
	if err := m.validate(item.Embedding); err != nil {
		return "", err
	}

	tn, err := m.pickNode(item.Embedding)
	if err != nil {
		return "", err
	}
	return m.store(tn, item)
}

func (m *Manager) pickNode(emb []float64) (*node.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var (
		best      *node.Node
		bestScore float64
	)
	nodes := m.reg.nodes()
	for _, tn := range nodes {
		c := tn.Centroid()
		if c == nil {
			continue
		}
		score, err := vecmath.Cosine(emb, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if best == nil || score > bestScore {
			best, bestScore = tn, score
		}
	}

	if best == nil {
		lowest := 0.0
		for _, tn := range nodes {
			u := tn.Utilization(m.cfg.CapacityPerTN)
			if best == nil || u < lowest {
				best, lowest = tn, u
			}
		}
	}

	if best == nil {
		return m.createNode("cold_start")
	}

	if best.Utilization(m.cfg.CapacityPerTN) > m.cfg.OverflowUtilization && m.reg.len() < m.cfg.GlobalMaxTNs {
		m.log.Debug("Transmitter node overflow", "tn", best.ID(), "nodes", m.reg.len())
		return m.createNode("overflow")
	}
	return best, nil
}

func (m *Manager) store(tn *node.Node, item node.Item) (string, error) {
	id, err := tn.AddItem(item)
	if err != nil {
		return "", err
	}
	m.dim.CompareAndSwap(0, int64(len(item.Embedding)))
	metrics.ItemsAdded.Inc()
	metrics.Items.Inc()
	return id, nil
}

// AddSemanticLink upserts a weighted edge from one live node to another.
func (m *Manager) AddSemanticLink(from, to string, weight float64) error {
	src, err := m.linkEnds(from, to)
	if err != nil {
		return err
	}
	return src.AddSemanticLink(to, weight)
}

// AddTemporalLink records a co-occurrence of two live nodes on from's side.
func (m *Manager) AddTemporalLink(from, to string) error {
	src, err := m.linkEnds(from, to)
	if err != nil {
		return err
	}
	return src.AddTemporalLink(to)
}

// Neighbors returns the semantic neighbors of a node with at least minWeight.
func (m *Manager) Neighbors(id string, minWeight float64) ([]node.Neighbor, error) {
	tn, err := m.Node(id)
	if err != nil {
		return nil, err
	}
	return tn.Neighbors(minWeight), nil
}

func (m *Manager) linkEnds(from, to string) (*node.Node, error) {
	src, err := m.Node(from)
	if err != nil {
		return nil, err
	}
	if _, err := m.Node(to); err != nil {
		return nil, err
	}
	return src, nil
}
