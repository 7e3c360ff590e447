package boxtree

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxtreedb/boxtree/codec"
	"github.com/boxtreedb/boxtree/pagefile"
	"github.com/boxtreedb/boxtree/rtree"
)

func matchIDs[T any](matches []Match[T]) []uint64 {
	ids := make([]uint64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestBuilders(t *testing.T) {
	t.Run("InvalidDimension", func(t *testing.T) {
		_, err := Memory[string](0).Build()
		var id *ErrInvalidDimension
		require.ErrorAs(t, err, &id)
	})

	t.Run("InvalidFillFactors", func(t *testing.T) {
		_, err := Memory[string](2).MaxEntries(8).MinEntries(7).Build()
		assert.Error(t, err)
	})

	t.Run("PageTooSmall", func(t *testing.T) {
		_, err := Disk[string](filepath.Join(t.TempDir(), "idx"), 2).
			PageSize(pagefile.MinPageSize).
			MaxEntries(200).
			Build()
		var pts *pagefile.PageTooSmallError
		require.ErrorAs(t, err, &pts)
	})

	t.Run("MustBuildPanics", func(t *testing.T) {
		assert.Panics(t, func() { Memory[string](0).MustBuild() })
	})
}

func TestDeriveMinEntries(t *testing.T) {
	// The 40% default fill rounds up, so the derived value for the
	// default capacity matches the tree's own default.
	assert.Equal(t, rtree.DefaultMinEntries, deriveMinEntries(rtree.DefaultMaxEntries, 0))
	assert.Equal(t, 2, deriveMinEntries(4, 0))
	assert.Equal(t, 3, deriveMinEntries(6, 0))
	assert.Equal(t, 16, deriveMinEntries(40, 0))
	assert.Equal(t, 7, deriveMinEntries(16, 7), "an explicit minimum wins")
}

func TestSearchEdges(t *testing.T) {
	ctx := context.Background()

	t.Run("TouchingBoxesIntersect", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		require.NoError(t, idx.Insert(ctx, 0, []float64{0, 0, 1, 1}, "a"))

		got, err := idx.Search(ctx, []float64{1, 1, 2, 2})
		require.NoError(t, err)
		assert.Equal(t, []uint64{0}, matchIDs(got))

		got, err = idx.Search(ctx, []float64{1.0000001, 1.0000001, 2, 2})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DuplicateIDsIn3D", func(t *testing.T) {
		idx := Memory[string](3).MustBuild()
		defer idx.Close()
		box := []float64{0, 60, 23, 0, 60, 42}
		require.NoError(t, idx.Insert(ctx, 1, box, "first"))
		require.NoError(t, idx.Insert(ctx, 2, box, "second"))

		got, err := idx.Search(ctx, []float64{-1, 60, 22, 1, 62, 43})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, matchIDs(got))
	})

	t.Run("Contains", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		require.NoError(t, idx.Insert(ctx, 1, []float64{1, 1, 2, 2}, "inner"))
		require.NoError(t, idx.Insert(ctx, 2, []float64{1, 1, 20, 20}, "outer"))

		got, err := idx.Search(ctx, []float64{0, 0, 5, 5}, WithContains())
		require.NoError(t, err)
		assert.Equal(t, []uint64{1}, matchIDs(got))
	})

	t.Run("Limit", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		for n := 0; n < 10; n++ {
			require.NoError(t, idx.Insert(ctx, uint64(n), []float64{float64(n), 0}, ""))
		}
		got, err := idx.Search(ctx, []float64{0, 0, 10, 10}, WithLimit(4))
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		_, err := idx.Search(ctx, []float64{1, 2, 3})
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 4, dm.Expected)
	})

	t.Run("InvalidBox", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		err := idx.Insert(ctx, 1, []float64{5, 5, 1, 1}, "")
		var ib *ErrInvalidBox
		require.ErrorAs(t, err, &ib)
	})
}

func TestClusteredPayloads(t *testing.T) {
	ctx := context.Background()

	type place struct {
		Name string
		Tags []string
	}

	idx := Memory[place](2).MustBuild()
	defer idx.Close()

	want := place{Name: "depot", Tags: []string{"east", "cold"}}
	require.NoError(t, idx.Insert(ctx, 7, []float64{3, 4}, want))

	got, err := idx.Search(ctx, []float64{3, 4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0].Data)
	assert.Equal(t, []float64{3, 4, 3, 4}, got[0].Coords)

	// Deleting releases the payload as well as the entry.
	require.NoError(t, idx.Delete(ctx, 7, []float64{3, 4}))
	err = idx.Delete(ctx, 7, []float64{3, 4})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInterleavedLayout(t *testing.T) {
	ctx := context.Background()
	idx := Memory[string](2).Interleaved().MustBuild()
	defer idx.Close()

	// (minX, maxX, minY, maxY)
	require.NoError(t, idx.Insert(ctx, 1, []float64{0, 10, 20, 30}, ""))
	got, err := idx.Search(ctx, []float64{5, 6, 25, 26})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float64{0, 10, 20, 30}, got[0].Coords)
}

func TestNearestFacade(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidK", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		_, err := idx.Nearest(ctx, []float64{0, 0}, 0)
		assert.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("TieAtKReturnsBoth", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		require.NoError(t, idx.Insert(ctx, 1, []float64{2, 0}, "east"))
		require.NoError(t, idx.Insert(ctx, 2, []float64{-2, 0}, "west"))

		got, err := idx.Nearest(ctx, []float64{0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, got, 2, "entries at identical distance are both returned")
		assert.Equal(t, got[0].Distance, got[1].Distance)
		assert.Equal(t, 4.0, got[0].Distance)
	})

	t.Run("AscendingWithPayloads", func(t *testing.T) {
		idx := Memory[int](1).MustBuild()
		defer idx.Close()
		for n := 1; n <= 5; n++ {
			require.NoError(t, idx.Insert(ctx, uint64(n), []float64{float64(n * n)}, n))
		}
		got, err := idx.Nearest(ctx, []float64{0}, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, m := range got {
			assert.Equal(t, i+1, m.Data)
		}
	})
}

func TestDeleteReinsertIdempotence(t *testing.T) {
	ctx := context.Background()
	idx := Memory[string](2).MaxEntries(8).MinEntries(3).MustBuild()
	defer idx.Close()

	boxes := make([][]float64, 100)
	for n := range boxes {
		x := float64(n % 10)
		y := float64(n / 10)
		boxes[n] = []float64{x, y, x + 0.5, y + 0.5}
		require.NoError(t, idx.Insert(ctx, uint64(n), boxes[n], "v"))
	}

	query := []float64{0, 0, 4, 4}
	before, err := idx.Search(ctx, query)
	require.NoError(t, err)

	for n := 10; n < 40; n++ {
		require.NoError(t, idx.Delete(ctx, uint64(n), boxes[n]))
	}
	for n := 10; n < 40; n++ {
		require.NoError(t, idx.Insert(ctx, uint64(n), boxes[n], "v"))
	}

	after, err := idx.Search(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, matchIDs(before), matchIDs(after))
	assert.Equal(t, uint64(100), idx.Count())
}

func TestBatchInsert(t *testing.T) {
	ctx := context.Background()
	idx := Memory[string](2).MustBuild()
	defer idx.Close()

	items := []Item[string]{
		{ID: 1, Coords: []float64{0, 0, 1, 1}, Data: "a"},
		{ID: 2, Coords: []float64{5, 5, 1, 1}, Data: "bad box"},
		{ID: 3, Coords: []float64{2, 2}, Data: "c"},
	}
	result := idx.BatchInsert(ctx, items)
	assert.Equal(t, 2, result.Inserted)
	require.Len(t, result.Errors, 3)
	assert.NoError(t, result.Errors[0])
	assert.Error(t, result.Errors[1])
	assert.NoError(t, result.Errors[2])
	assert.Equal(t, uint64(2), idx.Count())
}

func TestBoundsAndStats(t *testing.T) {
	ctx := context.Background()
	idx := Memory[string](2).MustBuild()
	defer idx.Close()

	_, ok, err := idx.Bounds()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Insert(ctx, 1, []float64{0, 0, 1, 1}, ""))
	require.NoError(t, idx.Insert(ctx, 2, []float64{5, 5, 9, 9}, ""))

	bounds, ok, err := idx.Bounds()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 9, 9}, bounds)

	stats, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Tree.Count)
	assert.Nil(t, stats.Storage, "memory indexes have no storage stats")
}

func TestMetricsAndLogging(t *testing.T) {
	ctx := context.Background()
	mc := &BasicMetricsCollector{}
	idx := Memory[string](2).Metrics(mc).Logger(NoopLogger()).MustBuild()
	defer idx.Close()

	require.NoError(t, idx.Insert(ctx, 1, []float64{0, 0}, ""))
	_, err := idx.Search(ctx, []float64{0, 0})
	require.NoError(t, err)
	_, err = idx.Nearest(ctx, []float64{0, 0}, 1)
	require.NoError(t, err)
	assert.Error(t, idx.Delete(ctx, 9, []float64{9, 9}))

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.NearestCount)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.DeleteErrors)
}

func TestDiskIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")

		idx, err := Disk[string](base, 2).Clustered().Build()
		require.NoError(t, err)
		require.NoError(t, idx.Insert(ctx, 1, []float64{0, 0, 1, 1}, "alpha"))
		require.NoError(t, idx.Insert(ctx, 2, []float64{5, 5, 6, 6}, "beta"))
		require.NoError(t, idx.Close())

		// Append mode resumes from the files.
		idx, err = Disk[string](base, 2).Clustered().Build()
		require.NoError(t, err)
		defer idx.Close()
		assert.Equal(t, uint64(2), idx.Count())

		got, err := idx.Search(ctx, []float64{0, 0, 2, 2})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "alpha", got[0].Data)

		stats, err := idx.Stats()
		require.NoError(t, err)
		require.NotNil(t, stats.Storage)
		assert.Greater(t, stats.Storage.Pages, uint64(0))
	})

	t.Run("OverwriteDropsData", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Build()
		require.NoError(t, err)
		require.NoError(t, idx.Insert(ctx, 1, []float64{0, 0}, ""))
		require.NoError(t, idx.Close())

		idx, err = Disk[string](base, 2).Overwrite().Build()
		require.NoError(t, err)
		defer idx.Close()
		assert.Equal(t, uint64(0), idx.Count())
	})

	t.Run("ConfigMismatch", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Build()
		require.NoError(t, err)
		require.NoError(t, idx.Close())

		_, err = Disk[string](base, 3).Build()
		var cm *pagefile.ConfigMismatchError
		require.ErrorAs(t, err, &cm)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Clustered().Build()
		require.NoError(t, err)
		require.NoError(t, idx.Insert(ctx, 1, []float64{1, 1}, "only"))
		require.NoError(t, idx.Close())

		idx, err = Disk[string](base, 2).ReadOnly().Build()
		require.NoError(t, err)
		defer idx.Close()
		got, err := idx.Search(ctx, []float64{1, 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "only", got[0].Data)
		assert.Error(t, idx.Insert(ctx, 2, []float64{2, 2}, "nope"))
	})

	t.Run("GobCodecRecordedInFile", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Clustered().Codec(codec.Gob{}).Build()
		require.NoError(t, err)
		require.NoError(t, idx.Insert(ctx, 1, []float64{1, 1}, "gob payload"))
		require.NoError(t, idx.Close())

		// Reopening without naming the codec picks it up from the file.
		idx, err = Disk[string](base, 2).Clustered().Build()
		require.NoError(t, err)
		defer idx.Close()
		got, err := idx.Search(ctx, []float64{1, 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "gob payload", got[0].Data)
	})

	t.Run("NonClusteredDiscardsPayload", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Build()
		require.NoError(t, err)
		defer idx.Close()
		require.NoError(t, idx.Insert(ctx, 1, []float64{1, 1}, "dropped"))
		got, err := idx.Search(ctx, []float64{1, 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0].Data)
	})
}
