package node

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/lattice/pkg/core/kmeans"
	"github.com/sanonone/lattice/pkg/core/quantize"
	"github.com/sanonone/lattice/pkg/core/vecmath"
	"github.com/sanonone/lattice/pkg/persistence"
)

// AddItem appends item to the node and returns its id.
//
// The item is written to the log first; only then is in-memory state updated,
// the centroid recomputed over every stored embedding and meta.json rewritten.
// Persist errors are returned to the caller. A missing id is generated, a nil
// score defaults to DefaultScore and LastAccess is stamped with the current time.
func (n *Node) AddItem(item Item) (string, error) {
	if err := ValidateEmbedding(item.Embedding, 0); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.meta.Centroid != nil && len(item.Embedding) != len(n.meta.Centroid) {
		return "", &DimensionError{Expected: len(n.meta.Centroid), Actual: len(item.Embedding)}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	score := item.ScoreValue()
	item.Score = &score
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Embedding = append([]float64(nil), item.Embedding...)
	now := n.now()
	item.LastAccess = now

	written, err := n.log.Append(item)
	if err != nil {
		return "", fmt.Errorf("append item to %s: %w", n.meta.ID, err)
	}

	n.items = append(n.items, item)
	n.meta.Items = len(n.items)
	n.meta.SizeEstimate += int64(written)
	n.meta.LastAccess = now

	embeddings := make([][]float64, len(n.items))
	for i, it := range n.items {
		embeddings[i] = it.Embedding
	}
	centroid, err := vecmath.Mean(embeddings)
	if err != nil {
		return "", err
	}
	n.meta.Centroid = centroid

	if err := n.persistMeta(); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Compress attempts the lossy compression of the node.
//
// It is a no-op on an already compressed node and on nodes with fewer than two
// items. Otherwise the mean pairwise cosine similarity over all item pairs is
// compared with threshold; below it the node is left untouched. Above it the
// embeddings are split by two-way k-means, quantized to 8 bits and written
// with the payloads to compressed.json, and the node is marked compressed.
func (n *Node) Compress(threshold float64) (CompressResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.meta.Compressed {
		return CompressResult{Status: AlreadyCompressed}, nil
	}
	if len(n.items) < 2 {
		return CompressResult{Status: TooFewItems}, nil
	}

	embeddings := make([][]float64, len(n.items))
	for i, it := range n.items {
		embeddings[i] = it.Embedding
	}

	avg, err := averagePairwiseCosine(embeddings)
	if err != nil {
		return CompressResult{}, fmt.Errorf("similarity of %s: %w", n.meta.ID, err)
	}
	if avg < threshold {
		return CompressResult{Status: TooDiverse, AvgSimilarity: avg}, nil
	}

	clusters, err := kmeans.Bisect(embeddings)
	if err != nil {
		return CompressResult{}, fmt.Errorf("cluster %s: %w", n.meta.ID, err)
	}

	art := Artifact{
		Centroids: clusters.Centroids,
		Labels:    clusters.Labels,
		Quantized: quantize.Codes(quantize.EncodeBatch(embeddings)),
		Payloads:  make([]json.RawMessage, len(n.items)),
		IDs:       make([]string, len(n.items)),
	}
	var withMeta, withScores bool
	for i, it := range n.items {
		art.Payloads[i] = it.Payload
		art.IDs[i] = it.ID
		withMeta = withMeta || len(it.Metadata) > 0
		withScores = withScores || it.ScoreValue() != DefaultScore
	}
	if withMeta {
		art.Metadata = make([]map[string]any, len(n.items))
		for i, it := range n.items {
			art.Metadata[i] = it.Metadata
		}
	}
	if withScores {
		art.Scores = make([]float64, len(n.items))
		for i, it := range n.items {
			art.Scores[i] = it.ScoreValue()
		}
	}

	written, err := persistence.WriteJSON(filepath.Join(n.dir, CompressedFile), art)
	if err != nil {
		return CompressResult{}, fmt.Errorf("write artifact of %s: %w", n.meta.ID, err)
	}

	original := n.meta.SizeEstimate
	compressed := int64(written)
	ratio := float64(original) / float64(compressed)

	n.meta.Compressed = true
	n.meta.CompressionRatio = &ratio
	n.meta.SizeEstimate = compressed
	if err := n.persistMeta(); err != nil {
		return CompressResult{}, err
	}

	if n.opts.TruncateOnCompress {
		if err := n.log.Truncate(); err != nil {
			return CompressResult{}, fmt.Errorf("truncate log of %s: %w", n.meta.ID, err)
		}
		// Serve what a reopen would load.
		for i := range n.items {
			n.items[i].Embedding = quantize.Decode(art.Quantized[i])
		}
	}

	return CompressResult{
		Status:         Compressed,
		AvgSimilarity:  avg,
		Ratio:          ratio,
		OriginalSize:   original,
		CompressedSize: compressed,
	}, nil
}

// averagePairwiseCosine averages the cosine similarity over all n(n-1)/2
// unordered pairs.
func averagePairwiseCosine(embeddings [][]float64) (float64, error) {
	var sum float64
	pairs := 0
	for i := 0; i < len(embeddings); i++ {
		for j := i + 1; j < len(embeddings); j++ {
			sim, err := vecmath.Cosine(embeddings[i], embeddings[j])
			if err != nil {
				return 0, err
			}
			sum += sim
			pairs++
		}
	}
	if pairs == 0 {
		return 0, nil
	}
	return sum / float64(pairs), nil
}

// DecayEnergy recomputes energy from the time elapsed between the last access
// and now: 1 - hours*perHour, clamped to [floor, 1]. The result and the
// maintenance timestamp are persisted.
func (n *Node) DecayEnergy(now time.Time, perHour, floor float64) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	idle := now.Sub(time.UnixMilli(n.meta.LastAccess))
	energy := 1.0 - idle.Hours()*perHour
	energy = math.Max(floor, math.Min(1.0, energy))

	n.meta.Energy = energy
	n.meta.LastMaintenance = now.UnixMilli()
	if err := n.persistMeta(); err != nil {
		return energy, err
	}
	return energy, nil
}

// ValidateEmbedding rejects empty and non-finite vectors and, when dim > 0,
// vectors of the wrong length.
func ValidateEmbedding(v []float64, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrValidation)
	}
	if dim > 0 && len(v) != dim {
		return &DimensionError{Expected: dim, Actual: len(v)}
	}
	if !vecmath.Finite(v) {
		return fmt.Errorf("%w: embedding contains NaN or Inf", ErrValidation)
	}
	return nil
}
