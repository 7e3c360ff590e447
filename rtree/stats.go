package rtree

// Stats is a point-in-time snapshot of the tree's shape.
type Stats struct {
	Dimension int
	Height    int
	Count     uint64
	Nodes     int
	Leaves    int
}

// Stats walks the tree and returns its current shape. The walk holds
// the read lock, so it observes a consistent snapshot.
func (t *Tree) Stats() (Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Dimension: t.dim, Height: t.height, Count: t.count}
	if t.closed {
		return Stats{}, ErrClosed
	}
	if t.root == InvalidRef {
		return s, nil
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
			return Stats{}, err
		}
		s.Nodes++
		if node.Level == 0 {
			s.Leaves++
			continue
		}
		for _, e := range node.Entries {
			stack = append(stack, frame{ref: e.Child, level: node.Level - 1})
		}
	}
	return s, nil
}
