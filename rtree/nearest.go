package rtree

import (
	"container/heap"

	"github.com/boxtreedb/boxtree/geo"
)

// Neighbor is a leaf entry reported by Nearest together with its
// squared Euclidean distance from the query box.
type Neighbor struct {
	Item     Item
	Distance float64
}

// Nearest returns the k entries closest to the query box in ascending
// distance order, using best-first branch-and-bound over MinDist. All
// entries tied with the k-th distance are included, so the result may
// hold more than k neighbors. k must be at least 1.
func (t *Tree) Nearest(query geo.Rect, k int) ([]Neighbor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	if query.Dim() != t.dim {
		return nil, &geo.ErrDimensionMismatch{Expected: t.dim, Actual: query.Dim()}
	}
	if k < 1 || t.root == InvalidRef {
		return nil, nil
	}

	pq := &branchQueue{}
	heap.Push(pq, branchItem{ref: t.root, level: t.height - 1})

	var out []Neighbor
	for pq.Len() > 0 {
		it := heap.Pop(pq).(branchItem)

		// Everything still queued is at least this far away. Stop only
		// when strictly beyond the k-th best, so ties stay included.
		if len(out) >= k && it.dist > out[k-1].Distance {
			break
		}

		if it.leaf {
			out = append(out, Neighbor{
				Item:     Item{Rect: it.entry.Rect, ID: it.entry.ID, Data: it.entry.Data},
				Distance: it.dist,
			})
			continue
		}

		node, err := t.fetchVerified(it.ref, it.level)
		if err != nil {
			return nil, err
		}
		if node.Level == 0 {
			for _, e := range node.Entries {
				heap.Push(pq, branchItem{dist: query.MinDist(e.Rect), leaf: true, entry: e})
			}
			continue
		}
		for _, e := range node.Entries {
			heap.Push(pq, branchItem{dist: query.MinDist(e.Rect), ref: e.Child, level: node.Level - 1})
		}
	}
	return out, nil
}

type branchItem struct {
	dist  float64
	ref   Ref
	level int
	leaf  bool
	entry Entry
}

// branchQueue is a min-heap of pending subtrees and leaf entries keyed
// by distance.
type branchQueue []branchItem

func (q branchQueue) Len() int           { return len(q) }
func (q branchQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q branchQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *branchQueue) Push(x any)        { *q = append(*q, x.(branchItem)) }

func (q *branchQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
