package boxtree

import (
	"errors"
	"fmt"

	"github.com/boxtreedb/boxtree/geo"
	"github.com/boxtreedb/boxtree/pagefile"
	"github.com/boxtreedb/boxtree/rtree"
)

var (
	// ErrNotFound is returned when a delete targets an entry that is
	// not in the index.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index is closed")

	// ErrNotPersistent is returned by persistence-only operations on a
	// memory index.
	ErrNotPersistent = errors.New("index is not persisted to disk")
)

// ErrDimensionMismatch indicates coordinates whose dimensionality does
// not match the one the index was built with.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrInvalidBox indicates a bounding box whose minimum exceeds its
// maximum on some axis.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidBox struct {
	Axis  int
	Min   float64
	Max   float64
	cause error
}

func (e *ErrInvalidBox) Error() string {
	return fmt.Sprintf("invalid box: min %g > max %g on axis %d", e.Min, e.Max, e.Axis)
}

func (e *ErrInvalidBox) Unwrap() error { return e.cause }

// ErrCorrupted indicates a structural or checksum violation detected
// while reading the index. Corruption is fatal and never repaired.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrCorrupted struct {
	Detail string
	cause  error
}

func (e *ErrCorrupted) Error() string {
	return fmt.Sprintf("index corrupted: %s", e.Detail)
}

func (e *ErrCorrupted) Unwrap() error { return e.cause }

// translateError normalizes subpackage errors into the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, rtree.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, rtree.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var dm *geo.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var ib *geo.ErrInvalidBox
	if errors.As(err, &ib) {
		return &ErrInvalidBox{Axis: ib.Axis, Min: ib.Min, Max: ib.Max, cause: err}
	}

	var ec *rtree.ErrCorrupted
	if errors.As(err, &ec) {
		return &ErrCorrupted{Detail: ec.Detail, cause: err}
	}
	var ce *pagefile.ChecksumError
	if errors.As(err, &ce) {
		return &ErrCorrupted{Detail: ce.Error(), cause: err}
	}

	return err
}
