// Package rtree implements a Guttman R-tree over a pluggable node
// store.
//
// The tree indexes axis-aligned bounding boxes and supports insertion,
// exact-match deletion, lazy intersection and containment search, and
// best-first nearest-neighbor search. Nodes live behind the NodeStore
// interface, so the same tree code runs over the in-memory arena store
// and over a paged on-disk store.
//
// All exported methods are safe for concurrent use. A single RWMutex
// serializes mutations against queries; a query iterator holds the read
// lock for its full enumeration.
package rtree

import (
	"io"
	"sync"

	"github.com/boxtreedb/boxtree/geo"
)

// Tree is an R-tree. Construct it with New.
type Tree struct {
	mu     sync.RWMutex
	store  NodeStore
	meta   MetaStore // nil when the store keeps no metadata
	opts   Options
	dim    int
	root   Ref
	height int
	count  uint64
	closed bool
}

// New creates a tree of the given dimensionality over the given store.
// If the store implements MetaStore, previously saved state (root,
// height, count) is loaded, which is how a persisted tree resumes from
// its files.
func New(dim int, store NodeStore, opts ...Option) (*Tree, error) {
	if dim < 1 {
		return nil, &geo.ErrDimensionMismatch{Expected: 1, Actual: dim}
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	t := &Tree{store: store, opts: o, dim: dim}
	if ms, ok := store.(MetaStore); ok {
		t.meta = ms
		m, found, err := ms.LoadMeta()
		if err != nil {
			return nil, err
		}
		if found {
			t.root = m.Root
			t.height = m.Height
			t.count = m.Count
		}
	}
	return t, nil
}

// Dim returns the dimensionality the tree was built with.
func (t *Tree) Dim() int { return t.dim }

// Count returns the number of leaf entries in the tree.
func (t *Tree) Count() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Height returns the number of levels in the tree; 0 when empty.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

// Bounds returns the minimal box enclosing every entry. The second
// return value is false when the tree is empty.
func (t *Tree) Bounds() (geo.Rect, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == InvalidRef {
		return geo.Rect{}, false, nil
	}
	root, err := t.fetchVerified(t.root, t.height-1)
	if err != nil {
		return geo.Rect{}, false, err
	}
	return root.bounds(), true, nil
}

// Insert adds a leaf entry. The entry's box must match the tree's
// dimensionality. Duplicate ids and duplicate boxes are permitted.
func (t *Tree) Insert(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if e.Rect.Dim() != t.dim {
		return &geo.ErrDimensionMismatch{Expected: t.dim, Actual: e.Rect.Dim()}
	}
	e.Child = InvalidRef
	if err := t.insertEntry(e, 0); err != nil {
		return err
	}
	t.count++
	return t.commitMeta()
}

// insertEntry places an entry at the given level, growing the root on
// overflow. Level 0 entries are leaf data; higher levels occur when
// deletion reinserts entries of dissolved branch nodes.
func (t *Tree) insertEntry(e Entry, level int) error {
	if t.root == InvalidRef {
		ref, err := t.store.Allocate()
		if err != nil {
			return err
		}
		ref, err = t.store.Write(ref, &Node{Level: level, Entries: []Entry{e}})
		if err != nil {
			return err
		}
		t.root = ref
		t.height = level + 1
		return nil
	}

	root, split, err := t.insertAt(t.root, e, level)
	if err != nil {
		return err
	}
	t.root = root
	if split == InvalidRef {
		return nil
	}

	// The root overflowed: grow the tree by one level.
	oldBounds, err := t.refBounds(t.root)
	if err != nil {
		return err
	}
	splitBounds, err := t.refBounds(split)
	if err != nil {
		return err
	}
	ref, err := t.store.Allocate()
	if err != nil {
		return err
	}
	newRoot := &Node{
		Level: t.height,
		Entries: []Entry{
			{Rect: oldBounds, Child: t.root},
			{Rect: splitBounds, Child: split},
		},
	}
	ref, err = t.store.Write(ref, newRoot)
	if err != nil {
		return err
	}
	t.root = ref
	t.height++
	return nil
}

// insertAt descends to the node at the target level, appends the entry,
// and splits on overflow. It returns the node's handle after the write,
// which a copy-on-write store may have moved, plus the handle of the
// split sibling (InvalidRef when no split occurred at this node).
func (t *Tree) insertAt(ref Ref, e Entry, level int) (Ref, Ref, error) {
	node, err := t.store.Fetch(ref)
	if err != nil {
		return InvalidRef, InvalidRef, err
	}

	if node.Level == level {
		node.Entries = append(node.Entries, e)
	} else {
		i := pickChild(node, e.Rect)
		child, split, err := t.insertAt(node.Entries[i].Child, e, level)
		if err != nil {
			return InvalidRef, InvalidRef, err
		}
		node.Entries[i].Child = child
		cb, err := t.refBounds(child)
		if err != nil {
			return InvalidRef, InvalidRef, err
		}
		node.Entries[i].Rect = cb
		if split != InvalidRef {
			sb, err := t.refBounds(split)
			if err != nil {
				return InvalidRef, InvalidRef, err
			}
			node.Entries = append(node.Entries, Entry{Rect: sb, Child: split})
		}
	}

	if len(node.Entries) > t.opts.MaxEntries {
		return t.splitNode(ref, node)
	}
	ref, err = t.store.Write(ref, node)
	return ref, InvalidRef, err
}

// pickChild chooses the subtree needing the least enlargement to cover
// r, breaking ties by smallest area.
func pickChild(node *Node, r geo.Rect) int {
	best := 0
	bestEnl := node.Entries[0].Rect.Enlargement(r)
	bestArea := node.Entries[0].Rect.Area()
	for i := 1; i < len(node.Entries); i++ {
		enl := node.Entries[i].Rect.Enlargement(r)
		area := node.Entries[i].Rect.Area()
		if enl < bestEnl || (enl == bestEnl && area < bestArea) {
			best, bestEnl, bestArea = i, enl, area
		}
	}
	return best
}

// refBounds fetches a node and returns the union of its entries.
func (t *Tree) refBounds(ref Ref) (geo.Rect, error) {
	node, err := t.store.Fetch(ref)
	if err != nil {
		return geo.Rect{}, err
	}
	return node.bounds(), nil
}

// fetchVerified fetches a node and checks the structural invariants
// visible at this point in a traversal: the node sits at the expected
// level and its entry count is within bounds (the root is exempt from
// the minimum).
func (t *Tree) fetchVerified(ref Ref, level int) (*Node, error) {
	node, err := t.store.Fetch(ref)
	if err != nil {
		return nil, err
	}
	if node.Level != level {
		return nil, &ErrCorrupted{Ref: ref, Detail: "node level does not match tree depth"}
	}
	if len(node.Entries) > t.opts.MaxEntries {
		return nil, &ErrCorrupted{Ref: ref, Detail: "node exceeds maximum entry count"}
	}
	if ref != t.root && len(node.Entries) < t.opts.MinEntries {
		return nil, &ErrCorrupted{Ref: ref, Detail: "node below minimum entry count"}
	}
	return node, nil
}

func (t *Tree) commitMeta() error {
	if t.meta == nil {
		return nil
	}
	return t.meta.SaveMeta(Meta{Root: t.root, Height: t.height, Count: t.count})
}

// Flush forces buffered writes in the underlying store to durable
// storage. It is a no-op for stores that do not buffer.
func (t *Tree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if f, ok := t.store.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes and closes the underlying store. The tree is unusable
// afterwards.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if c, ok := t.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
