package rtree

import "github.com/boxtreedb/boxtree/geo"

// splitNode partitions an overflowing node into two groups with
// Guttman's quadratic method. It returns the handle holding the first
// group (the node's own, possibly moved by a copy-on-write store) and
// the handle of the newly allocated sibling holding the second.
func (t *Tree) splitNode(ref Ref, node *Node) (Ref, Ref, error) {
	a, b := quadraticSplit(node.Entries, t.opts.MinEntries)

	self, err := t.store.Write(ref, &Node{Level: node.Level, Entries: a})
	if err != nil {
		return InvalidRef, InvalidRef, err
	}
	sibling, err := t.store.Allocate()
	if err != nil {
		return InvalidRef, InvalidRef, err
	}
	sibling, err = t.store.Write(sibling, &Node{Level: node.Level, Entries: b})
	if err != nil {
		return InvalidRef, InvalidRef, err
	}
	return self, sibling, nil
}

// quadraticSplit distributes entries into two groups. The seed pair is
// the one wasting the most area if grouped together; remaining entries
// go to the group whose box grows least, with area and then group size
// as tie breakers. Once a group must absorb everything left to reach
// the minimum fill, it does.
func quadraticSplit(entries []Entry, minFill int) ([]Entry, []Entry) {
	seedA, seedB := pickSeeds(entries)

	groupA := []Entry{entries[seedA]}
	groupB := []Entry{entries[seedB]}
	boxA := entries[seedA].Rect.Clone()
	boxB := entries[seedB].Rect.Clone()

	rest := make([]Entry, 0, len(entries)-2)
	for i, e := range entries {
		if i != seedA && i != seedB {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		// Honor the minimum fill: if one group needs every remaining
		// entry to reach it, stop choosing.
		if len(groupA)+len(rest) <= minFill {
			groupA = append(groupA, rest...)
			break
		}
		if len(groupB)+len(rest) <= minFill {
			groupB = append(groupB, rest...)
			break
		}

		// Pick the entry with the strongest preference for one group.
		next, bestDiff := 0, -1.0
		for i, e := range rest {
			dA := boxA.Enlargement(e.Rect)
			dB := boxB.Enlargement(e.Rect)
			diff := dA - dB
			if diff < 0 {
				diff = -diff
			}
			if diff > bestDiff {
				next, bestDiff = i, diff
			}
		}

		e := rest[next]
		rest = append(rest[:next], rest[next+1:]...)

		dA := boxA.Enlargement(e.Rect)
		dB := boxB.Enlargement(e.Rect)
		toA := dA < dB
		if dA == dB {
			aA, aB := boxA.Area(), boxB.Area()
			toA = aA < aB || (aA == aB && len(groupA) <= len(groupB))
		}
		if toA {
			groupA = append(groupA, e)
			boxA = boxA.Union(e.Rect)
		} else {
			groupB = append(groupB, e)
			boxB = boxB.Union(e.Rect)
		}
	}
	return groupA, groupB
}

// pickSeeds finds the pair of entries whose combined box wastes the
// most area, making them the worst candidates to keep together.
func pickSeeds(entries []Entry) (int, int) {
	seedA, seedB := 0, 1
	worst := -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			waste := wasteOf(entries[i].Rect, entries[j].Rect)
			if waste > worst {
				seedA, seedB, worst = i, j, waste
			}
		}
	}
	return seedA, seedB
}

func wasteOf(a, b geo.Rect) float64 {
	return a.Union(b).Area() - a.Area() - b.Area()
}
