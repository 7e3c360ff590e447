package rtree

import (
	"iter"

	"github.com/boxtreedb/boxtree/geo"
)

// Predicate selects which leaf entries a search reports.
type Predicate int

const (
	// PredicateIntersects reports entries whose box overlaps the query,
	// touching included.
	PredicateIntersects Predicate = iota

	// PredicateContains reports entries whose box lies entirely within
	// the query.
	PredicateContains
)

// String returns a string representation of the Predicate.
func (p Predicate) String() string {
	switch p {
	case PredicateIntersects:
		return "Intersects"
	case PredicateContains:
		return "Contains"
	default:
		return "Unknown"
	}
}

// Item is a leaf entry reported by a query.
type Item struct {
	Rect geo.Rect
	ID   uint64
	Data uint64
}

// Search returns a lazy iterator over all leaf entries matching the
// query box under the given predicate, in no particular order. The
// iterator holds the tree's read lock for its full enumeration, so
// mutations wait until the caller's range loop finishes. Each call
// starts a fresh traversal.
func (t *Tree) Search(query geo.Rect, pred Predicate) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.closed {
			yield(Item{}, ErrClosed)
			return
		}
		if query.Dim() != t.dim {
			yield(Item{}, &geo.ErrDimensionMismatch{Expected: t.dim, Actual: query.Dim()})
			return
		}
		if t.root == InvalidRef {
			return
		}

		type frame struct {
			ref   Ref
			level int
		}
		stack := []frame{{ref: t.root, level: t.height - 1}}
		for len(stack) > 0 {
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			node, err := t.fetchVerified(fr.ref, fr.level)
			if err != nil {
				yield(Item{}, err)
				return
			}
			if node.Level == 0 {
				for _, e := range node.Entries {
					if !matches(pred, query, e.Rect) {
						continue
					}
					if !yield(Item{Rect: e.Rect, ID: e.ID, Data: e.Data}, nil) {
						return
					}
				}
				continue
			}
			// Subtree pruning is always by overlap: a contained entry
			// can live under a branch that merely intersects the query.
			for _, e := range node.Entries {
				if e.Rect.Intersects(query) {
					stack = append(stack, frame{ref: e.Child, level: node.Level - 1})
				}
			}
		}
	}
}

func matches(pred Predicate, query, r geo.Rect) bool {
	if pred == PredicateContains {
		return query.Contains(r)
	}
	return query.Intersects(r)
}
