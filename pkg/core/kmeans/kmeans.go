// Package kmeans implements the two-way cosine k-means split used when a
// transmitter node is compressed.
package kmeans

import (
	"fmt"

	"github.com/sanonone/lattice/pkg/core/vecmath"
)

// MaxIterations bounds the assign/update loop.
const MaxIterations = 12

// Result holds the per-point cluster labels (0 or 1) and the two centroids.
// Centroids is nil when the input had fewer than two points.
type Result struct {
	Labels     []int
	Centroids  [2][]float64
	Iterations int
}

// Bisect partitions embeddings into two clusters by cosine distance.
//
// Initialization is deterministic: the first embedding and the one at index
// len/2 seed the two centroids, so the same input order always gives the same
// labels. The loop stops early once an assignment pass changes no label. A
// cluster that receives no points keeps its previous centroid.
func Bisect(embeddings [][]float64) (Result, error) {
	n := len(embeddings)
	labels := make([]int, n)
	if n < 2 {
		return Result{Labels: labels}, nil
	}

	var centroids [2][]float64
	centroids[0] = append([]float64(nil), embeddings[0]...)
	centroids[1] = append([]float64(nil), embeddings[n/2]...)

	iter := 0
	for iter < MaxIterations {
		iter++

		changed := false
		for i, e := range embeddings {
			d0, err := vecmath.CosineDistance(e, centroids[0])
			if err != nil {
				return Result{}, fmt.Errorf("point %d: %w", i, err)
			}
			d1, err := vecmath.CosineDistance(e, centroids[1])
			if err != nil {
				return Result{}, fmt.Errorf("point %d: %w", i, err)
			}
			label := 0
			if d1 < d0 {
				label = 1
			}
			if labels[i] != label {
				labels[i] = label
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := 0; c < 2; c++ {
			var members [][]float64
			for i, l := range labels {
				if l == c {
					members = append(members, embeddings[i])
				}
			}
			if len(members) == 0 {
				continue
			}
			mean, err := vecmath.Mean(members)
			if err != nil {
				return Result{}, fmt.Errorf("cluster %d: %w", c, err)
			}
			centroids[c] = mean
		}
	}

	return Result{Labels: labels, Centroids: centroids, Iterations: iter}, nil
}
