package rtree

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a delete targets an id and box that is
// not present in the tree.
var ErrNotFound = errors.New("entry not found")

// ErrClosed is returned by operations on a tree whose store has been
// closed.
var ErrClosed = errors.New("tree is closed")

// ErrCorrupted indicates a structural invariant violation observed
// while reading the tree: a stale reference, a node at an unexpected
// level, or an entry count outside the configured bounds. Corruption
// is fatal; the tree never attempts to repair it.
type ErrCorrupted struct {
	Ref    Ref
	Detail string
}

func (e *ErrCorrupted) Error() string {
	return fmt.Sprintf("corrupted node %d: %s", e.Ref, e.Detail)
}

// ErrInvalidFillFactors indicates max/min entry bounds that cannot form
// a valid tree. MaxEntries must be at least 4 and MinEntries must be in
// [2, MaxEntries/2].
type ErrInvalidFillFactors struct {
	Max int
	Min int
}

func (e *ErrInvalidFillFactors) Error() string {
	return fmt.Sprintf("invalid fill factors: max %d, min %d (need max >= 4 and 2 <= min <= max/2)", e.Max, e.Min)
}
