package pagefile

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxtreedb/boxtree/geo"
	"github.com/boxtreedb/boxtree/rtree"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		IndexPath: filepath.Join(dir, "test.idx"),
		DataPath:  filepath.Join(dir, "test.dat"),
		Config: Config{
			Dimension:  2,
			PageSize:   DefaultPageSize,
			MaxEntries: 16,
			MinEntries: 6,
		},
		CodecName: "json",
	}
}

func randomRect(rng *rand.Rand, dim int) geo.Rect {
	min := make([]float64, dim)
	max := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lo := rng.Float64() * 100
		min[i] = lo
		max[i] = lo + rng.Float64()*10
	}
	return geo.Rect{Min: min, Max: max}
}

func searchIDs(t *testing.T, tree *rtree.Tree, query geo.Rect) []uint64 {
	t.Helper()
	var ids []uint64
	for item, err := range tree.Search(query, rtree.PredicateIntersects) {
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestOpen(t *testing.T) {
	t.Run("PageTooSmall", func(t *testing.T) {
		opts := testOptions(t)
		opts.Config.PageSize = MinPageSize
		opts.Config.MaxEntries = 200
		_, err := Open(opts)
		var pts *PageTooSmallError
		require.ErrorAs(t, err, &pts)
	})

	t.Run("CreateAndReopenEmpty", func(t *testing.T) {
		opts := testOptions(t)
		s, err := Open(opts)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = Open(opts)
		require.NoError(t, err)
		meta, found, err := s.LoadMeta()
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, rtree.InvalidRef, meta.Root)
		require.NoError(t, s.Close())
	})

	t.Run("ConfigMismatch", func(t *testing.T) {
		opts := testOptions(t)
		s, err := Open(opts)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		opts.Config.Dimension = 3
		_, err = Open(opts)
		var cm *ConfigMismatchError
		require.ErrorAs(t, err, &cm)
		assert.Equal(t, "dimension", cm.Field)
	})

	t.Run("NotAnIndexFile", func(t *testing.T) {
		opts := testOptions(t)
		require.NoError(t, os.WriteFile(opts.IndexPath, bytes.Repeat([]byte{0xab}, 8192), 0o644))
		_, err := Open(opts)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("ReadOnlyMissing", func(t *testing.T) {
		opts := testOptions(t)
		opts.ReadOnly = true
		_, err := Open(opts)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestTreeRoundTrip(t *testing.T) {
	opts := testOptions(t)
	rng := rand.New(rand.NewSource(11))

	rects := make([]geo.Rect, 300)
	queries := make([]geo.Rect, 10)
	for i := range queries {
		queries[i] = randomRect(rng, 2)
	}

	s, err := Open(opts)
	require.NoError(t, err)
	tree, err := rtree.New(2, s, rtree.WithMaxEntries(16), rtree.WithMinEntries(6))
	require.NoError(t, err)

	for i := range rects {
		rects[i] = randomRect(rng, 2)
		require.NoError(t, tree.Insert(rtree.Entry{ID: uint64(i), Rect: rects[i]}))
	}
	want := make([][]uint64, len(queries))
	for i, q := range queries {
		want[i] = searchIDs(t, tree, q)
	}
	require.NoError(t, tree.Close())

	// Reopen in append mode: the header is the single source of truth.
	s, err = Open(opts)
	require.NoError(t, err)
	tree, err = rtree.New(2, s, rtree.WithMaxEntries(16), rtree.WithMinEntries(6))
	require.NoError(t, err)
	assert.Equal(t, uint64(300), tree.Count())
	for i, q := range queries {
		assert.Equal(t, want[i], searchIDs(t, tree, q))
	}

	// The reopened tree accepts further mutations.
	extra := randomRect(rng, 2)
	require.NoError(t, tree.Insert(rtree.Entry{ID: 9999, Rect: extra}))
	_, err = tree.Delete(0, rects[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(300), tree.Count())
	require.NoError(t, tree.Close())

	// Reopen read-only and verify queries still match.
	opts.ReadOnly = true
	s, err = Open(opts)
	require.NoError(t, err)
	tree, err = rtree.New(2, s, rtree.WithMaxEntries(16), rtree.WithMinEntries(6))
	require.NoError(t, err)
	found := false
	for _, id := range searchIDs(t, tree, extra) {
		if id == 9999 {
			found = true
		}
	}
	assert.True(t, found)
	assert.ErrorIs(t, tree.Insert(rtree.Entry{ID: 1, Rect: extra}), ErrReadOnly)
	require.NoError(t, tree.Close())
}

func TestOverwrite(t *testing.T) {
	opts := testOptions(t)

	s, err := Open(opts)
	require.NoError(t, err)
	tree, err := rtree.New(2, s, rtree.WithMaxEntries(16), rtree.WithMinEntries(6))
	require.NoError(t, err)
	require.NoError(t, tree.Insert(rtree.Entry{ID: 1, Rect: geo.Point([]float64{1, 1})}))
	require.NoError(t, tree.Close())

	opts.Overwrite = true
	s, err = Open(opts)
	require.NoError(t, err)
	tree, err = rtree.New(2, s, rtree.WithMaxEntries(16), rtree.WithMinEntries(6))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tree.Count())
	require.NoError(t, tree.Close())
}

func TestFreePageReuse(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)
	b, err := s.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	node := &rtree.Node{Level: 0, Entries: []rtree.Entry{{ID: 1, Rect: geo.Point([]float64{1, 2})}}}
	_, err = s.Write(a, node)
	require.NoError(t, err)
	_, err = s.Write(b, node)
	require.NoError(t, err)
	require.NoError(t, s.Free(a))

	// A freed page is stale until reallocated.
	_, err = s.Fetch(a)
	var corrupted *rtree.ErrCorrupted
	require.ErrorAs(t, err, &corrupted)

	// An uncommitted page returns to circulation at once.
	c, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c, "freed page is reused before the file grows")

	// A committed page stays reserved until the commit that records its
	// release, since the on-disk snapshot still references it.
	require.NoError(t, s.SaveMeta(rtree.Meta{Root: b, Height: 1, Count: 1}))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Free(b))

	_, err = s.Fetch(b)
	require.ErrorAs(t, err, &corrupted)
	d, err := s.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, b, d, "page backing the committed snapshot is not reused")

	require.NoError(t, s.Flush())
	e, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, b, e, "committed free becomes reusable after the next commit")
}

// flushPagesOnly mimics a crash between the page writes and the header
// commit of a flush: payload records and dirty node pages reach disk,
// the header does not.
func flushPagesOnly(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.data.Sync())
	for _, page := range s.cache.dirtyPages() {
		buf, ok := s.cache.get(page)
		require.True(t, ok)
		_, err := s.idx.WriteAt(buf, int64(page)*int64(s.cfg.PageSize))
		require.NoError(t, err)
	}
	require.NoError(t, s.idx.Sync())
}

func TestCrashBeforeHeaderCommit(t *testing.T) {
	opts := testOptions(t)
	opts.Config.MaxEntries = 4
	opts.Config.MinEntries = 2

	s, err := Open(opts)
	require.NoError(t, err)
	tree, err := rtree.New(2, s, rtree.WithMaxEntries(4), rtree.WithMinEntries(2))
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, tree.Insert(rtree.Entry{
			ID:   uint64(i),
			Rect: geo.Point([]float64{float64(i), float64(i)}),
		}))
	}
	require.NoError(t, tree.Flush())

	everything, err := geo.NewRect([]float64{-100, -100}, []float64{100, 100})
	require.NoError(t, err)
	want := searchIDs(t, tree, everything)
	require.Len(t, want, 8)

	// The next insert splits committed leaves and rewrites their
	// parents. Get its pages to disk but not the header, as a crash in
	// the middle of a flush would.
	require.NoError(t, tree.Insert(rtree.Entry{ID: 8, Rect: geo.Point([]float64{8, 8})}))
	flushPagesOnly(t, s)

	// Reopening from disk must surface the previous commit untouched.
	recovered, err := Open(Options{IndexPath: opts.IndexPath, DataPath: opts.DataPath, Config: opts.Config})
	require.NoError(t, err)
	tree2, err := rtree.New(2, recovered, rtree.WithMaxEntries(4), rtree.WithMinEntries(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), tree2.Count())
	assert.Equal(t, want, searchIDs(t, tree2, everything))
	require.NoError(t, tree2.Close())

	// Drop the crashed instance's descriptors without flushing.
	require.NoError(t, s.idx.Close())
	require.NoError(t, s.data.Close())
}

func TestChecksumFailure(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	require.NoError(t, err)

	ref, err := s.Allocate()
	require.NoError(t, err)
	node := &rtree.Node{Level: 0, Entries: []rtree.Entry{{ID: 7, Rect: geo.Point([]float64{3, 4})}}}
	ref, err = s.Write(ref, node)
	require.NoError(t, err)
	require.NoError(t, s.SaveMeta(rtree.Meta{Root: ref, Height: 1, Count: 1}))
	require.NoError(t, s.Close())

	// Flip a byte inside the node page.
	f, err := os.OpenFile(opts.IndexPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	off := int64(ref)*int64(opts.Config.PageSize) + 10
	_, err = f.WriteAt([]byte{0xff}, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(opts)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Fetch(ref)
	var corrupted *rtree.ErrCorrupted
	require.ErrorAs(t, err, &corrupted)
	assert.Equal(t, ref, corrupted.Ref)
}

func TestPayloads(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			opts := testOptions(t)
			opts.Compression = compression
			s, err := Open(opts)
			require.NoError(t, err)

			compressible := bytes.Repeat([]byte("boxtree payload "), 64)
			incompressible := make([]byte, 512)
			rand.New(rand.NewSource(12)).Read(incompressible)

			h1, err := s.Put(compressible)
			require.NoError(t, err)
			h2, err := s.Put(incompressible)
			require.NoError(t, err)
			h3, err := s.Put(nil)
			require.NoError(t, err)

			for handle, want := range map[uint64][]byte{h1: compressible, h2: incompressible} {
				got, err := s.Get(handle)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			got, err := s.Get(h3)
			require.NoError(t, err)
			assert.Empty(t, got)
			require.NoError(t, s.Close())

			// Records survive reopen; the file records its codec name.
			s, err = Open(opts)
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, "json", s.CodecName())
			got, err = s.Get(h1)
			require.NoError(t, err)
			assert.Equal(t, compressible, got)

			_, err = s.Get(uint64(s.data.size) + 100)
			assert.Error(t, err)
		})
	}
}

func TestHeaderCommitIsLast(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	require.NoError(t, err)

	ref, err := s.Allocate()
	require.NoError(t, err)
	node := &rtree.Node{Level: 0, Entries: []rtree.Entry{{ID: 1, Rect: geo.Point([]float64{1, 1})}}}
	ref, err = s.Write(ref, node)
	require.NoError(t, err)
	require.NoError(t, s.SaveMeta(rtree.Meta{Root: ref, Height: 1, Count: 1}))
	require.NoError(t, s.Flush())

	// Staged-but-unflushed state must not leak into the header: stage
	// another mutation, then reopen from disk without closing.
	ref2, err := s.Allocate()
	require.NoError(t, err)
	ref2, err = s.Write(ref2, node)
	require.NoError(t, err)
	require.NoError(t, s.SaveMeta(rtree.Meta{Root: ref2, Height: 1, Count: 2}))

	other, err := Open(Options{IndexPath: opts.IndexPath, DataPath: opts.DataPath, Config: opts.Config})
	require.NoError(t, err)
	meta, found, err := other.LoadMeta()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), meta.Count, "unflushed commit is invisible on disk")
	assert.Equal(t, ref, meta.Root)
	require.NoError(t, other.Close())
	require.NoError(t, s.Close())
}

func TestStats(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	ref, err := s.Allocate()
	require.NoError(t, err)
	node := &rtree.Node{Level: 0, Entries: []rtree.Entry{{ID: 1, Rect: geo.Point([]float64{1, 1})}}}
	ref, err = s.Write(ref, node)
	require.NoError(t, err)
	_, err = s.Fetch(ref)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Pages)
	assert.Greater(t, stats.CacheHitRatio, 0.0)
}
