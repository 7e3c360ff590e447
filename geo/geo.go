// Package geo implements axis-aligned bounding box arithmetic over
// k-dimensional boxes.
//
// All operations are pure functions over Rect values: they never mutate
// their receivers or arguments. Intervals are closed on both ends, so
// boxes that merely touch are considered intersecting. Distances are
// squared Euclidean throughout; callers that need the true metric can
// take the square root of the returned value.
package geo

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned box in k-dimensional space, described by its
// minimum and maximum corner. A degenerate box (Min == Max) represents
// a point.
type Rect struct {
	Min []float64
	Max []float64
}

// ErrInvalidBox indicates a box whose minimum exceeds its maximum on
// some axis.
type ErrInvalidBox struct {
	Axis int
	Min  float64
	Max  float64
}

func (e *ErrInvalidBox) Error() string {
	return fmt.Sprintf("invalid box: min %g > max %g on axis %d", e.Min, e.Max, e.Axis)
}

// ErrDimensionMismatch indicates a box or coordinate slice whose
// dimensionality differs from the one the index was built with.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// NewRect builds a Rect from min and max corners. Both slices are
// copied. It returns *ErrInvalidBox if min exceeds max on any axis and
// *ErrDimensionMismatch if the corners disagree in length.
func NewRect(min, max []float64) (Rect, error) {
	if len(min) != len(max) {
		return Rect{}, &ErrDimensionMismatch{Expected: len(min), Actual: len(max)}
	}
	for i := range min {
		if min[i] > max[i] {
			return Rect{}, &ErrInvalidBox{Axis: i, Min: min[i], Max: max[i]}
		}
	}
	r := Rect{Min: make([]float64, len(min)), Max: make([]float64, len(max))}
	copy(r.Min, min)
	copy(r.Max, max)
	return r, nil
}

// Point builds a degenerate Rect covering a single coordinate.
func Point(coords []float64) Rect {
	r := Rect{Min: make([]float64, len(coords)), Max: make([]float64, len(coords))}
	copy(r.Min, coords)
	copy(r.Max, coords)
	return r
}

// Dim returns the dimensionality of the box.
func (r Rect) Dim() int { return len(r.Min) }

// Clone returns a deep copy of the box.
func (r Rect) Clone() Rect {
	c := Rect{Min: make([]float64, len(r.Min)), Max: make([]float64, len(r.Max))}
	copy(c.Min, r.Min)
	copy(c.Max, r.Max)
	return c
}

// Equal reports whether two boxes have identical corners.
func (r Rect) Equal(o Rect) bool {
	if len(r.Min) != len(o.Min) {
		return false
	}
	for i := range r.Min {
		if r.Min[i] != o.Min[i] || r.Max[i] != o.Max[i] {
			return false
		}
	}
	return true
}

// Union returns the minimal box enclosing both r and o.
func (r Rect) Union(o Rect) Rect {
	u := Rect{Min: make([]float64, len(r.Min)), Max: make([]float64, len(r.Max))}
	for i := range r.Min {
		u.Min[i] = math.Min(r.Min[i], o.Min[i])
		u.Max[i] = math.Max(r.Max[i], o.Max[i])
	}
	return u
}

// Area returns the k-dimensional volume of the box. Degenerate boxes
// have zero area.
func (r Rect) Area() float64 {
	area := 1.0
	for i := range r.Min {
		area *= r.Max[i] - r.Min[i]
	}
	return area
}

// Margin returns the sum of the box's extents across all axes.
func (r Rect) Margin() float64 {
	var m float64
	for i := range r.Min {
		m += r.Max[i] - r.Min[i]
	}
	return m
}

// Enlargement returns the area increase required for r to cover o.
func (r Rect) Enlargement(o Rect) float64 {
	return r.Union(o).Area() - r.Area()
}

// OverlapArea returns the volume of the intersection of r and o, or 0
// if they are disjoint.
func (r Rect) OverlapArea(o Rect) float64 {
	area := 1.0
	for i := range r.Min {
		lo := math.Max(r.Min[i], o.Min[i])
		hi := math.Min(r.Max[i], o.Max[i])
		if hi < lo {
			return 0
		}
		area *= hi - lo
	}
	return area
}

// Intersects reports whether r and o overlap. Intervals are closed, so
// boxes that only touch on a face or corner intersect.
func (r Rect) Intersects(o Rect) bool {
	for i := range r.Min {
		if r.Min[i] > o.Max[i] || o.Min[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely within r (closed intervals).
func (r Rect) Contains(o Rect) bool {
	for i := range r.Min {
		if o.Min[i] < r.Min[i] || o.Max[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// MinDist returns the squared Euclidean distance between the closest
// pair of points in r and o, or 0 if the boxes intersect.
func (r Rect) MinDist(o Rect) float64 {
	var d float64
	for i := range r.Min {
		var gap float64
		switch {
		case o.Max[i] < r.Min[i]:
			gap = r.Min[i] - o.Max[i]
		case r.Max[i] < o.Min[i]:
			gap = o.Min[i] - r.Max[i]
		}
		d += gap * gap
	}
	return d
}
