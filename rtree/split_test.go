package rtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxtreedb/boxtree/geo"
)

func TestQuadraticSplit(t *testing.T) {
	t.Run("PreservesEntries", func(t *testing.T) {
		rng := rand.New(rand.NewSource(8))
		entries := make([]Entry, 33)
		for i := range entries {
			entries[i] = Entry{ID: uint64(i), Rect: randomRect(rng, 2)}
		}

		a, b := quadraticSplit(entries, 13)
		assert.Equal(t, len(entries), len(a)+len(b))

		seen := make(map[uint64]bool)
		for _, e := range append(append([]Entry(nil), a...), b...) {
			assert.False(t, seen[e.ID], "entry duplicated by split")
			seen[e.ID] = true
		}
	})

	t.Run("HonorsMinFill", func(t *testing.T) {
		rng := rand.New(rand.NewSource(9))
		for trial := 0; trial < 50; trial++ {
			entries := make([]Entry, 9)
			for i := range entries {
				entries[i] = Entry{ID: uint64(i), Rect: randomRect(rng, 2)}
			}
			a, b := quadraticSplit(entries, 3)
			assert.GreaterOrEqual(t, len(a), 3)
			assert.GreaterOrEqual(t, len(b), 3)
		}
	})

	t.Run("SeedsMaximizeWaste", func(t *testing.T) {
		// Two far-apart clusters: the seeds must come from different
		// clusters, so each group stays tight.
		var entries []Entry
		rng := rand.New(rand.NewSource(10))
		for i := 0; i < 5; i++ {
			entries = append(entries, Entry{ID: uint64(i), Rect: geo.Point([]float64{rng.Float64(), rng.Float64()})})
		}
		for i := 5; i < 10; i++ {
			entries = append(entries, Entry{ID: uint64(i), Rect: geo.Point([]float64{1000 + rng.Float64(), 1000 + rng.Float64()})})
		}

		a, b := quadraticSplit(entries, 2)
		require.Len(t, a, 5)
		require.Len(t, b, 5)
		lowCluster := a[0].ID < 5
		for _, e := range a {
			assert.Equal(t, lowCluster, e.ID < 5)
		}
		for _, e := range b {
			assert.Equal(t, !lowCluster, e.ID < 5)
		}
	})
}
