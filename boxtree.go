// Package boxtree provides an embedded R-tree spatial index for Go.
//
// Boxtree indexes axis-aligned bounding boxes in any number of
// dimensions and supports:
//
//   - Intersection and containment queries with lazy streaming results
//   - k-nearest-neighbor search with distance ties included
//   - Duplicate ids and duplicate boxes
//   - Optional two-file on-disk persistence (paged index file plus
//     append-only payload log) with crash-safe header-last commits
//   - Clustered payload storage with pluggable codecs and optional
//     zstd/LZ4 compression
//   - Type-safe fluent builders: Memory[T](), Disk[T]()
//   - Backup and restore through pluggable object storage
//
// # Quick Start
//
// Create an in-memory index:
//
//	ctx := context.Background()
//	idx, err := boxtree.Memory[string](2).Build()
//	if err != nil {
//	    panic(err)
//	}
//	defer idx.Close()
//
// Insert boxes (or points, passing one coordinate per axis):
//
//	_ = idx.Insert(ctx, 1, []float64{0, 0, 10, 10}, "warehouse")
//	_ = idx.Insert(ctx, 2, []float64{5, 5}, "drop point")
//
// Query:
//
//	matches, _ := idx.Search(ctx, []float64{0, 0, 6, 6})
//	nearest, _ := idx.Nearest(ctx, []float64{4, 4}, 3)
//
// Stream large result sets without materializing them:
//
//	for m, err := range idx.SearchStream(ctx, query) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    process(m)
//	}
//
// Create a persisted index with clustered payloads:
//
//	idx, err := boxtree.Disk[Record]("./depot", 2).
//	    Clustered().
//	    Compression(boxtree.CompressionZstd).
//	    Build()
//
// Reopening the same path resumes from the files; use Overwrite() to
// start fresh.
package boxtree

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/boxtreedb/boxtree/codec"
	"github.com/boxtreedb/boxtree/geo"
	"github.com/boxtreedb/boxtree/pagefile"
	"github.com/boxtreedb/boxtree/rtree"
)

// Compression re-exports the payload compression choices for builders.
const (
	CompressionNone = pagefile.CompressionNone
	CompressionLZ4  = pagefile.CompressionLZ4
	CompressionZstd = pagefile.CompressionZstd
)

// Index is a spatial index over axis-aligned bounding boxes. T is the
// payload type stored alongside each entry in clustered mode; in
// non-clustered mode payloads are discarded and matches carry T's zero
// value. Construct an Index with Memory or Disk.
//
// All methods are safe for concurrent use.
type Index[T any] struct {
	tree      *rtree.Tree
	payloads  rtree.PayloadStore
	store     *pagefile.Store // nil for memory indexes
	codec     codec.Codec
	layout    geo.Layout
	dimension int
	clustered bool
	indexPath string
	dataPath  string
	logger    *Logger
	metrics   MetricsCollector
}

// Item is one element of a batch insert.
type Item[T any] struct {
	ID     uint64
	Coords []float64
	Data   T
}

// Match is a query result. Coords holds the entry's box flattened in
// the index's coordinate layout. Distance is the squared Euclidean
// distance to the query and is only set by Nearest.
type Match[T any] struct {
	ID       uint64
	Coords   []float64
	Distance float64
	Data     T
}

// BatchInsertResult reports the outcome of a BatchInsert. Errors holds
// one slot per input item; nil means the item was inserted.
type BatchInsertResult struct {
	Inserted int
	Errors   []error
}

// Dimension returns the dimensionality the index was built with.
func (i *Index[T]) Dimension() int { return i.dimension }

// Insert adds a box under the given id. Coordinates are either one
// value per axis (a point) or a full box in the index's layout.
// Duplicate ids and boxes are allowed. In clustered mode data is
// encoded with the index's codec and stored in the payload log.
func (i *Index[T]) Insert(ctx context.Context, id uint64, coords []float64, data T) error {
	start := time.Now()
	err := i.insert(ctx, id, coords, data)
	i.metrics.RecordInsert(time.Since(start), err)
	i.logger.LogInsert(ctx, id, i.dimension, err)
	return err
}

func (i *Index[T]) insert(ctx context.Context, id uint64, coords []float64, data T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := geo.ParseCoords(coords, i.dimension, i.layout)
	if err != nil {
		return translateError(err)
	}

	var handle uint64
	if i.clustered {
		blob, err := i.codec.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if handle, err = i.payloads.Put(blob); err != nil {
			return translateError(err)
		}
	}
	// A failed tree insert orphans the payload record; the space is
	// reclaimed by an Overwrite rebuild.
	return translateError(i.tree.Insert(rtree.Entry{Rect: r, ID: id, Data: handle}))
}

// BatchInsert inserts many items, continuing past per-item failures.
func (i *Index[T]) BatchInsert(ctx context.Context, items []Item[T]) BatchInsertResult {
	start := time.Now()
	result := BatchInsertResult{Errors: make([]error, len(items))}
	for n, item := range items {
		if err := i.insert(ctx, item.ID, item.Coords, item.Data); err != nil {
			result.Errors[n] = err
		} else {
			result.Inserted++
		}
	}
	failed := len(items) - result.Inserted
	i.metrics.RecordBatchInsert(len(items), failed, time.Since(start))
	i.logger.LogBatchInsert(ctx, len(items), failed)
	return result
}

// Delete removes the entry matching id and box exactly. When identical
// entries exist, one is removed per call. Returns ErrNotFound when no
// entry matches.
func (i *Index[T]) Delete(ctx context.Context, id uint64, coords []float64) error {
	start := time.Now()
	err := i.delete(ctx, id, coords)
	i.metrics.RecordDelete(time.Since(start), err)
	i.logger.LogDelete(ctx, id, err)
	return err
}

func (i *Index[T]) delete(ctx context.Context, id uint64, coords []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := geo.ParseCoords(coords, i.dimension, i.layout)
	if err != nil {
		return translateError(err)
	}
	removed, err := i.tree.Delete(id, r)
	if err != nil {
		return translateError(err)
	}
	if i.clustered && removed.Data != 0 {
		if err := i.payloads.Free(removed.Data); err != nil {
			return translateError(err)
		}
	}
	return nil
}

// SearchOption configures a Search or SearchStream call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	pred  rtree.Predicate
	limit int
}

// WithContains restricts results to entries lying entirely within the
// query box. The default reports every entry overlapping it.
func WithContains() SearchOption {
	return func(o *searchOptions) { o.pred = rtree.PredicateContains }
}

// WithLimit stops the enumeration after n results.
func WithLimit(n int) SearchOption {
	return func(o *searchOptions) { o.limit = n }
}

// Search returns all entries matching the query box. The query is
// either a point (one value per axis) or a full box in the index's
// layout; results are in no particular order.
func (i *Index[T]) Search(ctx context.Context, coords []float64, opts ...SearchOption) ([]Match[T], error) {
	var out []Match[T]
	for m, err := range i.SearchStream(ctx, coords, opts...) {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SearchStream returns a lazy iterator over entries matching the query
// box. Mutations block until the enumeration finishes, so keep the
// loop body short or collect with Search instead. Each call starts a
// fresh traversal.
func (i *Index[T]) SearchStream(ctx context.Context, coords []float64, opts ...SearchOption) iter.Seq2[Match[T], error] {
	o := searchOptions{pred: rtree.PredicateIntersects}
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(Match[T], error) bool) {
		start := time.Now()
		results := 0
		var streamErr error
		defer func() {
			i.metrics.RecordSearch(results, time.Since(start), streamErr)
			i.logger.LogSearch(ctx, o.pred.String(), results, streamErr)
		}()

		if streamErr = ctx.Err(); streamErr != nil {
			yield(Match[T]{}, streamErr)
			return
		}
		query, err := geo.ParseCoords(coords, i.dimension, i.layout)
		if err != nil {
			streamErr = translateError(err)
			yield(Match[T]{}, streamErr)
			return
		}

		for item, err := range i.tree.Search(query, o.pred) {
			if err != nil {
				streamErr = translateError(err)
				yield(Match[T]{}, streamErr)
				return
			}
			m, err := i.resolve(item)
			if err != nil {
				streamErr = err
				yield(Match[T]{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
			results++
			if o.limit > 0 && results >= o.limit {
				return
			}
			if streamErr = ctx.Err(); streamErr != nil {
				yield(Match[T]{}, streamErr)
				return
			}
		}
	}
}

// Nearest returns the k entries closest to the query in ascending
// squared-Euclidean distance. All entries tied with the k-th distance
// are included, so the result may hold more than k matches.
func (i *Index[T]) Nearest(ctx context.Context, coords []float64, k int) ([]Match[T], error) {
	start := time.Now()
	out, err := i.nearest(ctx, coords, k)
	i.metrics.RecordNearest(k, time.Since(start), err)
	i.logger.LogNearest(ctx, k, len(out), err)
	return out, err
}

func (i *Index[T]) nearest(ctx context.Context, coords []float64, k int) ([]Match[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	query, err := geo.ParseCoords(coords, i.dimension, i.layout)
	if err != nil {
		return nil, translateError(err)
	}
	neighbors, err := i.tree.Nearest(query, k)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]Match[T], 0, len(neighbors))
	for _, n := range neighbors {
		m, err := i.resolve(n.Item)
		if err != nil {
			return nil, err
		}
		m.Distance = n.Distance
		out = append(out, m)
	}
	return out, nil
}

// resolve turns a tree item into a public match, decoding the payload
// in clustered mode.
func (i *Index[T]) resolve(item rtree.Item) (Match[T], error) {
	m := Match[T]{ID: item.ID, Coords: item.Rect.Coords(i.layout)}
	if i.clustered && item.Data != 0 {
		blob, err := i.payloads.Get(item.Data)
		if err != nil {
			return Match[T]{}, translateError(err)
		}
		if err := i.codec.Unmarshal(blob, &m.Data); err != nil {
			return Match[T]{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return m, nil
}

// Count returns the number of entries in the index.
func (i *Index[T]) Count() uint64 {
	return i.tree.Count()
}

// Bounds returns the minimal box enclosing every entry, flattened in
// the index's layout. The second return value is false when the index
// is empty.
func (i *Index[T]) Bounds() ([]float64, bool, error) {
	r, ok, err := i.tree.Bounds()
	if err != nil || !ok {
		return nil, false, translateError(err)
	}
	return r.Coords(i.layout), true, nil
}

// Stats is a point-in-time snapshot of the index. Storage is nil for
// memory indexes.
type Stats struct {
	Tree    rtree.Stats
	Storage *pagefile.Stats
}

// Stats walks the tree and reports its shape plus, for persisted
// indexes, storage usage and page cache effectiveness.
func (i *Index[T]) Stats() (Stats, error) {
	treeStats, err := i.tree.Stats()
	if err != nil {
		return Stats{}, translateError(err)
	}
	s := Stats{Tree: treeStats}
	if i.store != nil {
		storage := i.store.Stats()
		s.Storage = &storage
	}
	return s, nil
}

// Flush forces buffered pages and payload records to durable storage.
// It is a no-op for memory indexes.
func (i *Index[T]) Flush() error {
	err := translateError(i.tree.Flush())
	i.logger.LogFlush(context.Background(), err)
	return err
}

// Close flushes and closes the index. The index is unusable afterwards.
func (i *Index[T]) Close() error {
	return translateError(i.tree.Close())
}
