package lattice

import (
	"github.com/tidwall/btree"

	"github.com/sanonone/lattice/pkg/node"
)

// entry is a registered node keyed by its registration sequence.
type entry struct {
	seq uint64
	tn  *node.Node
}

func entryLess(a, b entry) bool {
	return a.seq < b.seq
}

// registry keeps live nodes in registration order, so scans are
// deterministic and ties in routing resolve to the oldest node. It is not
// synchronized; the Manager guards it.
type registry struct {
	tree *btree.BTreeG[entry]
	ids  map[string]uint64
	next uint64
}

func newRegistry() *registry {
	return &registry{
		tree: btree.NewBTreeGOptions(entryLess, btree.Options{NoLocks: true}),
		ids:  make(map[string]uint64),
	}
}

func (r *registry) add(tn *node.Node) {
	r.next++
	r.ids[tn.ID()] = r.next
	r.tree.Set(entry{seq: r.next, tn: tn})
}

func (r *registry) get(id string) (*node.Node, bool) {
	seq, ok := r.ids[id]
	if !ok {
		return nil, false
	}
	e, ok := r.tree.Get(entry{seq: seq})
	return e.tn, ok
}

func (r *registry) remove(id string) bool {
	seq, ok := r.ids[id]
	if !ok {
		return false
	}
	delete(r.ids, id)
	_, ok = r.tree.Delete(entry{seq: seq})
	return ok
}

func (r *registry) len() int {
	return r.tree.Len()
}

// nodes returns the live nodes in registration order.
func (r *registry) nodes() []*node.Node {
	out := make([]*node.Node, 0, r.tree.Len())
	r.tree.Scan(func(e entry) bool {
		out = append(out, e.tn)
		return true
	})
	return out
}
