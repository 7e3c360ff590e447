package geo

// Layout describes the ordering of flat coordinate slices at the API
// boundary. It is purely a marshaling convention: coordinates are
// normalized into a Rect immediately on entry.
type Layout int

const (
	// LayoutNonInterleaved orders coordinates as
	// [min0, min1, ..., minK, max0, max1, ..., maxK].
	LayoutNonInterleaved Layout = iota

	// LayoutInterleaved orders coordinates as
	// [min0, max0, min1, max1, ..., minK, maxK].
	LayoutInterleaved
)

// String returns a string representation of the Layout.
func (l Layout) String() string {
	switch l {
	case LayoutNonInterleaved:
		return "NonInterleaved"
	case LayoutInterleaved:
		return "Interleaved"
	default:
		return "Unknown"
	}
}

// ParseCoords normalizes a flat coordinate slice into a Rect of the
// given dimensionality. A slice of length dim is treated as a point;
// a slice of length 2*dim is split according to the layout. Any other
// length yields *ErrDimensionMismatch, and min > max on any axis
// yields *ErrInvalidBox.
func ParseCoords(coords []float64, dim int, layout Layout) (Rect, error) {
	switch len(coords) {
	case dim:
		return Point(coords), nil
	case 2 * dim:
		r := Rect{Min: make([]float64, dim), Max: make([]float64, dim)}
		if layout == LayoutInterleaved {
			for i := 0; i < dim; i++ {
				r.Min[i] = coords[2*i]
				r.Max[i] = coords[2*i+1]
			}
		} else {
			copy(r.Min, coords[:dim])
			copy(r.Max, coords[dim:])
		}
		for i := 0; i < dim; i++ {
			if r.Min[i] > r.Max[i] {
				return Rect{}, &ErrInvalidBox{Axis: i, Min: r.Min[i], Max: r.Max[i]}
			}
		}
		return r, nil
	default:
		return Rect{}, &ErrDimensionMismatch{Expected: 2 * dim, Actual: len(coords)}
	}
}

// Coords flattens the box back into a coordinate slice in the given
// layout. It is the inverse of ParseCoords for non-degenerate input.
func (r Rect) Coords(layout Layout) []float64 {
	dim := r.Dim()
	out := make([]float64, 2*dim)
	if layout == LayoutInterleaved {
		for i := 0; i < dim; i++ {
			out[2*i] = r.Min[i]
			out[2*i+1] = r.Max[i]
		}
		return out
	}
	copy(out[:dim], r.Min)
	copy(out[dim:], r.Max)
	return out
}
