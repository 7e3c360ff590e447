package rtree

import (
	"sort"

	"github.com/boxtreedb/boxtree/geo"
)

// orphan holds the surviving entries of a dissolved underfull node,
// pending reinsertion at their original level.
type orphan struct {
	level   int
	entries []Entry
}

// Delete removes the leaf entry matching id and box exactly. When
// several identical entries exist, one of them is removed. It returns
// the removed entry so the caller can release its payload handle, or
// ErrNotFound when no entry matches.
func (t *Tree) Delete(id uint64, r geo.Rect) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Entry{}, ErrClosed
	}
	if r.Dim() != t.dim {
		return Entry{}, &geo.ErrDimensionMismatch{Expected: t.dim, Actual: r.Dim()}
	}
	if t.root == InvalidRef {
		return Entry{}, ErrNotFound
	}

	var orphans []orphan
	removed, rootRef, found, err := t.remove(t.root, id, r, &orphans)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	t.root = rootRef
	t.count--

	// The removal may have emptied the root outright; reset so that
	// reinsertion can rebuild from scratch.
	root, err := t.store.Fetch(t.root)
	if err != nil {
		return Entry{}, err
	}
	if len(root.Entries) == 0 {
		if err := t.store.Free(t.root); err != nil {
			return Entry{}, err
		}
		t.root = InvalidRef
		t.height = 0
	}

	// Reinsert orphans highest level first, so branch entries always
	// find a tall enough tree to land in.
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].level > orphans[j].level })
	for _, o := range orphans {
		for _, e := range o.entries {
			if err := t.insertEntry(e, o.level); err != nil {
				return Entry{}, err
			}
		}
	}

	if err := t.collapseRoot(); err != nil {
		return Entry{}, err
	}
	return removed, t.commitMeta()
}

// remove descends to the leaf holding the entry, removes it, and
// condenses on the way back up: an underfull child is dissolved, its
// entries recorded as orphans, and its slot removed from the parent;
// otherwise the parent's box for the child is tightened. The returned
// handle is the node's own after the write, which a copy-on-write
// store may have moved.
func (t *Tree) remove(ref Ref, id uint64, r geo.Rect, orphans *[]orphan) (Entry, Ref, bool, error) {
	node, err := t.store.Fetch(ref)
	if err != nil {
		return Entry{}, InvalidRef, false, err
	}

	if node.Level == 0 {
		for i, e := range node.Entries {
			if e.ID == id && e.Rect.Equal(r) {
				node.Entries = append(node.Entries[:i], node.Entries[i+1:]...)
				ref, err = t.store.Write(ref, node)
				return e, ref, true, err
			}
		}
		return Entry{}, ref, false, nil
	}

	for i := 0; i < len(node.Entries); i++ {
		if !node.Entries[i].Rect.Contains(r) {
			continue
		}
		removed, childRef, found, err := t.remove(node.Entries[i].Child, id, r, orphans)
		if err != nil {
			return Entry{}, InvalidRef, false, err
		}
		if !found {
			continue
		}
		node.Entries[i].Child = childRef

		child, err := t.store.Fetch(childRef)
		if err != nil {
			return Entry{}, InvalidRef, false, err
		}
		if len(child.Entries) < t.opts.MinEntries {
			*orphans = append(*orphans, orphan{level: child.Level, entries: child.Entries})
			if err := t.store.Free(childRef); err != nil {
				return Entry{}, InvalidRef, false, err
			}
			node.Entries = append(node.Entries[:i], node.Entries[i+1:]...)
		} else {
			node.Entries[i].Rect = child.bounds()
		}
		ref, err = t.store.Write(ref, node)
		return removed, ref, true, err
	}
	return Entry{}, ref, false, nil
}

// collapseRoot shortens the tree while the root is a branch with a
// single child, and resets it entirely when the last entry is gone.
func (t *Tree) collapseRoot() error {
	for t.root != InvalidRef {
		root, err := t.store.Fetch(t.root)
		if err != nil {
			return err
		}
		if root.Level > 0 && len(root.Entries) == 1 {
			child := root.Entries[0].Child
			if err := t.store.Free(t.root); err != nil {
				return err
			}
			t.root = child
			t.height--
			continue
		}
		if len(root.Entries) == 0 {
			if err := t.store.Free(t.root); err != nil {
				return err
			}
			t.root = InvalidRef
			t.height = 0
		}
		return nil
	}
	return nil
}
