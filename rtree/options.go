package rtree

const (
	// DefaultMaxEntries is the default node capacity.
	DefaultMaxEntries = 32

	// DefaultMinEntries is the default minimum fill (40% of capacity).
	DefaultMinEntries = 13
)

// Options holds the tree's tunable parameters.
type Options struct {
	// MaxEntries is the node capacity. A node exceeding it is split.
	MaxEntries int

	// MinEntries is the minimum fill of every node except the root. A
	// node falling below it during deletion is dissolved and its
	// entries reinserted.
	MinEntries int
}

// DefaultOptions returns the default tree parameters.
func DefaultOptions() Options {
	return Options{
		MaxEntries: DefaultMaxEntries,
		MinEntries: DefaultMinEntries,
	}
}

// Option configures the tree.
type Option func(*Options)

// WithMaxEntries sets the node capacity.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithMinEntries sets the minimum node fill.
func WithMinEntries(n int) Option {
	return func(o *Options) { o.MinEntries = n }
}

func (o Options) validate() error {
	if o.MaxEntries < 4 || o.MinEntries < 2 || o.MinEntries > o.MaxEntries/2 {
		return &ErrInvalidFillFactors{Max: o.MaxEntries, Min: o.MinEntries}
	}
	return nil
}
