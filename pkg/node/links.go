package node

import (
	"fmt"
	"slices"
	"sort"
)

// AddSemanticLink upserts a weighted directed edge to target.
func (n *Node) AddSemanticLink(target string, weight float64) error {
	if target == "" {
		return fmt.Errorf("%w: empty link target", ErrValidation)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.links.Semantic[target] = SemanticEdge{Weight: weight, Created: n.now()}
	return n.persistLinks()
}

// AddTemporalLink records one co-occurrence with target, creating the edge on
// first sight.
func (n *Node) AddTemporalLink(target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty link target", ErrValidation)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	edge := n.links.Temporal[target]
	edge.Count++
	edge.LastSeen = n.now()
	n.links.Temporal[target] = edge
	return n.persistLinks()
}

// SetParent sets (or clears, with "") the parent node.
func (n *Node) SetParent(parent string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if parent == "" {
		n.links.Parent = nil
	} else {
		n.links.Parent = &parent
	}
	return n.persistLinks()
}

// AddChild adds child to the children set.
func (n *Node) AddChild(child string) error {
	if child == "" {
		return fmt.Errorf("%w: empty child id", ErrValidation)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if slices.Contains(n.links.Children, child) {
		return nil
	}
	n.links.Children = append(n.links.Children, child)
	return n.persistLinks()
}

// Neighbors returns the semantic targets with weight >= minWeight, heaviest
// first (ties by id).
func (n *Node) Neighbors(minWeight float64) []Neighbor {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Neighbor, 0, len(n.links.Semantic))
	for id, e := range n.links.Semantic {
		if e.Weight >= minWeight {
			out = append(out, Neighbor{ID: id, Weight: e.Weight})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Links returns a deep copy of the link graph.
func (n *Node) Links() Links {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links.clone()
}
