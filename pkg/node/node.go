// Package node implements the Transmitter Node: the unit of storage of the
// lattice. A node owns one directory holding an append-only item log, its
// metadata (centroid, compression state, energy) and a small link graph.
//
// Every method is safe for concurrent use. A per-node mutex serializes all
// state changes and file writes, so a node has a single writer at any time.
package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sanonone/lattice/pkg/core/quantize"
	"github.com/sanonone/lattice/pkg/persistence"
)

// Options tunes how a node persists itself.
type Options struct {
	// SyncWrites fsyncs the item log after every append.
	SyncWrites bool

	// TruncateOnCompress drops the raw item log once the compressed artifact
	// is durable. The node then serves its older items from the dequantized
	// artifact.
	TruncateOnCompress bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Node is a Transmitter Node.
type Node struct {
	mu    sync.Mutex
	dir   string
	opts  Options
	meta  Meta
	links Links
	items []Item
	log   *persistence.LogWriter
}

// Create initializes a fresh, empty node with the given id under dir and
// persists its meta and links files.
func Create(dir, id string, opts Options) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty node id", ErrValidation)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create node directory: %w", err)
	}

	now := opts.Now().UnixMilli()
	n := &Node{
		dir:  dir,
		opts: opts,
		meta: Meta{
			ID:              id,
			Created:         now,
			LastAccess:      now,
			LastMaintenance: now,
			Energy:          1.0,
			Active:          true,
		},
		links: newLinks(),
	}

	if err := n.persistMeta(); err != nil {
		return nil, err
	}
	if err := n.persistLinks(); err != nil {
		return nil, err
	}

	w, err := persistence.OpenLog(filepath.Join(dir, ItemsFile), opts.SyncWrites)
	if err != nil {
		return nil, err
	}
	n.log = w
	return n, nil
}

// Open loads an existing node directory.
func Open(dir string, opts Options) (*Node, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	n := &Node{dir: dir, opts: opts}

	found, err := persistence.ReadJSON(filepath.Join(dir, MetaFile), &n.meta)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoMeta
	}
	if n.meta.ID == "" {
		return nil, fmt.Errorf("%s: meta has no id", dir)
	}

	if _, err := persistence.ReadJSON(filepath.Join(dir, LinksFile), &n.links); err != nil {
		return nil, err
	}
	n.links.normalize()

	logPath := filepath.Join(dir, ItemsFile)
	var logged []Item
	valid, err := persistence.ReadLog(logPath, func(it Item) error {
		logged = append(logged, it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := persistence.RepairLog(logPath, valid); err != nil {
		return nil, err
	}

	if n.meta.Compressed {
		restored, err := n.restoreCompressed(logged)
		if err != nil {
			return nil, err
		}
		n.items = append(restored, logged...)
	} else {
		n.items = logged
	}
	n.meta.Items = len(n.items)

	w, err := persistence.OpenLog(logPath, opts.SyncWrites)
	if err != nil {
		return nil, err
	}
	n.log = w
	return n, nil
}

// restoreCompressed rebuilds the items that only survive in compressed.json,
// i.e. those whose raw log lines were truncated away.
func (n *Node) restoreCompressed(logged []Item) ([]Item, error) {
	var art Artifact
	found, err := persistence.ReadJSON(filepath.Join(n.dir, CompressedFile), &art)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if len(art.Quantized) != len(art.Payloads) {
		return nil, fmt.Errorf("%s: %d quantized vectors for %d payloads", CompressedFile, len(art.Quantized), len(art.Payloads))
	}

	inLog := make(map[string]struct{}, len(logged))
	for _, it := range logged {
		inLog[it.ID] = struct{}{}
	}

	var out []Item
	for i, code := range art.Quantized {
		id := fmt.Sprintf("%s-c%d", n.meta.ID, i)
		if i < len(art.IDs) {
			id = art.IDs[i]
		}
		if _, ok := inLog[id]; ok {
			continue
		}
		meta := map[string]any{}
		if i < len(art.Metadata) && art.Metadata[i] != nil {
			meta = art.Metadata[i]
		}
		score := DefaultScore
		if i < len(art.Scores) {
			score = art.Scores[i]
		}
		out = append(out, Item{
			ID:         id,
			Embedding:  quantize.Decode(code),
			Payload:    art.Payloads[i],
			Metadata:   meta,
			Score:      &score,
			LastAccess: n.meta.LastAccess,
		})
	}
	return out, nil
}

// ID returns the node id.
func (n *Node) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.meta.ID
}

// Dir returns the node directory.
func (n *Node) Dir() string {
	return n.dir
}

// Meta returns a copy of the node metadata.
func (n *Node) Meta() Meta {
	n.mu.Lock()
	defer n.mu.Unlock()

	m := n.meta
	if m.Centroid != nil {
		m.Centroid = append([]float64(nil), m.Centroid...)
	}
	if m.CompressionRatio != nil {
		r := *m.CompressionRatio
		m.CompressionRatio = &r
	}
	return m
}

// Centroid returns a copy of the centroid, or nil for an empty node.
func (n *Node) Centroid() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.meta.Centroid == nil {
		return nil
	}
	return append([]float64(nil), n.meta.Centroid...)
}

// Len returns the number of items.
func (n *Node) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.meta.Items
}

// IsCompressed reports whether Compress has succeeded on this node.
func (n *Node) IsCompressed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.meta.Compressed
}

// Energy returns the current energy score.
func (n *Node) Energy() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.meta.Energy
}

// Items returns a snapshot of the stored items in insertion order. Items are
// immutable, so the slice is shallow-copied.
func (n *Node) Items() []Item {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Item(nil), n.items...)
}

// Utilization returns items/capacity.
func (n *Node) Utilization(capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return float64(n.meta.Items) / float64(capacity)
}

// Deactivate marks the node inactive on disk. Inactive directories are
// skipped when a lattice is reopened.
func (n *Node) Deactivate() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.meta.Active = false
	return n.persistMeta()
}

// Close releases the item log.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.log == nil {
		return nil
	}
	return n.log.Close()
}

// Destroy closes the node and deletes its directory.
func (n *Node) Destroy() error {
	return errors.Join(n.Close(), os.RemoveAll(n.dir))
}

func (n *Node) now() int64 {
	return n.opts.Now().UnixMilli()
}

func (n *Node) persistMeta() error {
	if _, err := persistence.WriteJSON(filepath.Join(n.dir, MetaFile), n.meta); err != nil {
		return fmt.Errorf("persist meta of %s: %w", n.meta.ID, err)
	}
	return nil
}

func (n *Node) persistLinks() error {
	if _, err := persistence.WriteJSON(filepath.Join(n.dir, LinksFile), n.links); err != nil {
		return fmt.Errorf("persist links of %s: %w", n.meta.ID, err)
	}
	return nil
}
