package rtree

import "github.com/boxtreedb/boxtree/geo"

// Ref is an opaque handle to a stored node. InvalidRef is never a valid
// node handle; in persisted stores it corresponds to the header page.
type Ref uint64

// InvalidRef is the zero Ref.
const InvalidRef Ref = 0

// Entry is a single slot in a node. Branch entries (in nodes with
// Level > 0) carry Child, the handle of the subtree whose bounding box
// is Rect. Leaf entries carry the caller-supplied ID and an opaque
// payload handle in Data (0 means no payload).
type Entry struct {
	Rect  geo.Rect
	Child Ref
	ID    uint64
	Data  uint64
}

// Node is a tree node. Level 0 is a leaf; higher levels are branches.
// After any mutating operation completes, a node holds at most
// MaxEntries entries, and every node except the root holds at least
// MinEntries.
type Node struct {
	Level   int
	Entries []Entry
}

// bounds returns the minimal box enclosing all entries, or a zero Rect
// for an empty node.
func (n *Node) bounds() geo.Rect {
	if len(n.Entries) == 0 {
		return geo.Rect{}
	}
	r := n.Entries[0].Rect.Clone()
	for _, e := range n.Entries[1:] {
		r = r.Union(e.Rect)
	}
	return r
}
