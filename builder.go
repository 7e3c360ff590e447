// This file implements the fluent builder APIs for creating and
// configuring Index instances. Builders are immutable - each method
// returns a new builder with the updated configuration.
package boxtree

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/boxtreedb/boxtree/codec"
	"github.com/boxtreedb/boxtree/geo"
	"github.com/boxtreedb/boxtree/pagefile"
	"github.com/boxtreedb/boxtree/rtree"
)

// =============================================================================
// Memory Builder (Immutable)
// =============================================================================

// Memory creates a builder for an in-memory index with the specified
// dimension. Memory indexes are always clustered: payloads live in an
// in-memory store encoded with the configured codec.
//
// Example:
//
//	idx, err := boxtree.Memory[string](2).
//	    MaxEntries(16).
//	    Build()
func Memory[T any](dimension int) MemoryBuilder[T] {
	return MemoryBuilder[T]{
		dimension:  dimension,
		maxEntries: rtree.DefaultMaxEntries,
	}
}

// MemoryBuilder is an immutable fluent builder for in-memory indexes.
// Each method returns a new builder with the updated configuration.
type MemoryBuilder[T any] struct {
	dimension   int
	maxEntries  int
	minEntries  int
	interleaved bool
	codec       codec.Codec
	logger      *Logger
	metrics     MetricsCollector
}

// MaxEntries sets the node capacity. Default: 32.
func (b MemoryBuilder[T]) MaxEntries(n int) MemoryBuilder[T] {
	b.maxEntries = n
	return b
}

// MinEntries sets the minimum node fill. Default: 40% of MaxEntries.
func (b MemoryBuilder[T]) MinEntries(n int) MemoryBuilder[T] {
	b.minEntries = n
	return b
}

// Interleaved switches the coordinate layout at the API boundary to
// [min0, max0, min1, max1, ...]. The default expects all minimums
// followed by all maximums.
func (b MemoryBuilder[T]) Interleaved() MemoryBuilder[T] {
	b.interleaved = true
	return b
}

// Codec sets the payload codec. Default: codec.Default.
func (b MemoryBuilder[T]) Codec(c codec.Codec) MemoryBuilder[T] {
	b.codec = c
	return b
}

// Logger sets the structured logger for operation tracing.
func (b MemoryBuilder[T]) Logger(l *Logger) MemoryBuilder[T] {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b MemoryBuilder[T]) Metrics(mc MetricsCollector) MemoryBuilder[T] {
	b.metrics = mc
	return b
}

// Build creates the index.
func (b MemoryBuilder[T]) Build() (*Index[T], error) {
	if b.dimension < 1 {
		return nil, &ErrInvalidDimension{Dimension: b.dimension}
	}
	minEntries := deriveMinEntries(b.maxEntries, b.minEntries)
	tree, err := rtree.New(b.dimension, rtree.NewMemoryStore(),
		rtree.WithMaxEntries(b.maxEntries),
		rtree.WithMinEntries(minEntries),
	)
	if err != nil {
		return nil, translateError(err)
	}
	return &Index[T]{
		tree:      tree,
		payloads:  rtree.NewMemoryPayloadStore(),
		codec:     orDefaultCodec(b.codec),
		layout:    layoutOf(b.interleaved),
		dimension: b.dimension,
		clustered: true,
		logger:    orNoopLogger(b.logger),
		metrics:   orNoopMetrics(b.metrics),
	}, nil
}

// MustBuild creates the index and panics on error.
func (b MemoryBuilder[T]) MustBuild() *Index[T] {
	idx, err := b.Build()
	if err != nil {
		panic(err)
	}
	return idx
}

// =============================================================================
// Disk Builder (Immutable)
// =============================================================================

// Disk creates a builder for a persisted index rooted at the given
// path. The index lives in two files, path+".idx" (node pages) and
// path+".dat" (payload log); extensions are configurable. Opening an
// existing pair resumes from its files unless Overwrite is set.
//
// Example:
//
//	idx, err := boxtree.Disk[Record]("./depot", 2).
//	    Clustered().
//	    Compression(boxtree.CompressionZstd).
//	    Build()
func Disk[T any](path string, dimension int) DiskBuilder[T] {
	return DiskBuilder[T]{
		path:       path,
		dimension:  dimension,
		maxEntries: rtree.DefaultMaxEntries,
		pageSize:   pagefile.DefaultPageSize,
		cacheSize:  pagefile.DefaultCacheSize,
		indexExt:   ".idx",
		dataExt:    ".dat",
	}
}

// DiskBuilder is an immutable fluent builder for persisted indexes.
// Each method returns a new builder with the updated configuration.
type DiskBuilder[T any] struct {
	path        string
	dimension   int
	maxEntries  int
	minEntries  int
	interleaved bool
	clustered   bool
	pageSize    int
	cacheSize   int
	overwrite   bool
	readOnly    bool
	syncWrites  bool
	compression pagefile.Compression
	writeRate   rate.Limit
	indexExt    string
	dataExt     string
	codec       codec.Codec
	logger      *Logger
	metrics     MetricsCollector
}

// MaxEntries sets the node capacity. Default: 32. The capacity must
// fit the page size; Build fails otherwise.
func (b DiskBuilder[T]) MaxEntries(n int) DiskBuilder[T] {
	b.maxEntries = n
	return b
}

// MinEntries sets the minimum node fill. Default: 40% of MaxEntries.
func (b DiskBuilder[T]) MinEntries(n int) DiskBuilder[T] {
	b.minEntries = n
	return b
}

// Interleaved switches the coordinate layout at the API boundary to
// [min0, max0, min1, max1, ...].
func (b DiskBuilder[T]) Interleaved() DiskBuilder[T] {
	b.interleaved = true
	return b
}

// Clustered stores payloads in the data file alongside the index.
// Without it, Insert discards data and matches carry T's zero value.
func (b DiskBuilder[T]) Clustered() DiskBuilder[T] {
	b.clustered = true
	return b
}

// PageSize sets the index file page size in bytes. Default: 4096.
func (b DiskBuilder[T]) PageSize(n int) DiskBuilder[T] {
	b.pageSize = n
	return b
}

// CacheSize sets the page cache capacity in pages. Default: 1024.
func (b DiskBuilder[T]) CacheSize(n int) DiskBuilder[T] {
	b.cacheSize = n
	return b
}

// Overwrite truncates and recreates both files instead of resuming
// from an existing pair.
func (b DiskBuilder[T]) Overwrite() DiskBuilder[T] {
	b.overwrite = true
	return b
}

// ReadOnly opens the index for queries only, memory-mapping the index
// file where the platform supports it.
func (b DiskBuilder[T]) ReadOnly() DiskBuilder[T] {
	b.readOnly = true
	return b
}

// SyncWrites flushes after every mutation, trading throughput for
// per-operation durability. Without it, mutations reach disk on Flush
// and Close.
func (b DiskBuilder[T]) SyncWrites() DiskBuilder[T] {
	b.syncWrites = true
	return b
}

// Compression selects payload compression for the data file.
// Default: none.
func (b DiskBuilder[T]) Compression(c pagefile.Compression) DiskBuilder[T] {
	b.compression = c
	return b
}

// WriteRate caps page flushing in pages per second, smoothing I/O
// spikes on shared disks. Zero means unlimited.
func (b DiskBuilder[T]) WriteRate(r rate.Limit) DiskBuilder[T] {
	b.writeRate = r
	return b
}

// Extensions overrides the file extensions of the index and data
// files. Defaults: ".idx" and ".dat".
func (b DiskBuilder[T]) Extensions(indexExt, dataExt string) DiskBuilder[T] {
	b.indexExt = indexExt
	b.dataExt = dataExt
	return b
}

// Codec sets the payload codec recorded in new data files. Opening an
// existing pair selects the codec recorded in its header instead.
func (b DiskBuilder[T]) Codec(c codec.Codec) DiskBuilder[T] {
	b.codec = c
	return b
}

// Logger sets the structured logger for operation tracing.
func (b DiskBuilder[T]) Logger(l *Logger) DiskBuilder[T] {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b DiskBuilder[T]) Metrics(mc MetricsCollector) DiskBuilder[T] {
	b.metrics = mc
	return b
}

// Build opens or creates the index files and returns the index.
func (b DiskBuilder[T]) Build() (*Index[T], error) {
	if b.dimension < 1 {
		return nil, &ErrInvalidDimension{Dimension: b.dimension}
	}
	minEntries := deriveMinEntries(b.maxEntries, b.minEntries)
	c := orDefaultCodec(b.codec)

	layout := layoutOf(b.interleaved)
	indexPath := b.path + b.indexExt
	dataPath := b.path + b.dataExt

	store, err := pagefile.Open(pagefile.Options{
		IndexPath: indexPath,
		DataPath:  dataPath,
		Config: pagefile.Config{
			Dimension:  b.dimension,
			PageSize:   b.pageSize,
			MaxEntries: b.maxEntries,
			MinEntries: minEntries,
			Layout:     uint8(layout),
			Clustered:  b.clustered,
		},
		CacheSize:   b.cacheSize,
		Overwrite:   b.overwrite,
		ReadOnly:    b.readOnly,
		SyncWrites:  b.syncWrites,
		Compression: b.compression,
		CodecName:   c.Name(),
		WriteRate:   b.writeRate,
	})
	if err != nil {
		return nil, translateError(err)
	}

	// An existing pair is authoritative for layout, clustering and
	// codec; the header and the data file record them.
	cfg := store.Config()
	if name := store.CodecName(); name != "" && name != c.Name() {
		stored, ok := codec.ByName(name)
		if !ok {
			store.Close()
			return nil, fmt.Errorf("data file records unknown payload codec %q", name)
		}
		c = stored
	}

	tree, err := rtree.New(b.dimension, store,
		rtree.WithMaxEntries(cfg.MaxEntries),
		rtree.WithMinEntries(cfg.MinEntries),
	)
	if err != nil {
		store.Close()
		return nil, translateError(err)
	}

	return &Index[T]{
		tree:      tree,
		payloads:  store.Payloads(),
		store:     store,
		codec:     c,
		layout:    geo.Layout(cfg.Layout),
		dimension: b.dimension,
		clustered: cfg.Clustered,
		indexPath: indexPath,
		dataPath:  dataPath,
		logger:    orNoopLogger(b.logger),
		metrics:   orNoopMetrics(b.metrics),
	}, nil
}

// MustBuild opens the index and panics on error.
func (b DiskBuilder[T]) MustBuild() *Index[T] {
	idx, err := b.Build()
	if err != nil {
		panic(err)
	}
	return idx
}

// deriveMinEntries applies the 40% default fill, rounded up, when min
// is unset. For the default capacity of 32 this yields 13, matching
// rtree.DefaultMinEntries.
func deriveMinEntries(max, min int) int {
	if min > 0 {
		return min
	}
	min = (max*2 + 4) / 5
	if min < 2 {
		min = 2
	}
	if min > max/2 {
		min = max / 2
	}
	return min
}

func layoutOf(interleaved bool) geo.Layout {
	if interleaved {
		return geo.LayoutInterleaved
	}
	return geo.LayoutNonInterleaved
}

func orDefaultCodec(c codec.Codec) codec.Codec {
	if c == nil {
		return codec.Default
	}
	return c
}

func orNoopLogger(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}

func orNoopMetrics(mc MetricsCollector) MetricsCollector {
	if mc == nil {
		return NoopMetricsCollector{}
	}
	return mc
}
