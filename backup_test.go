package boxtree

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxtreedb/boxtree/blobstore"
)

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	t.Run("MemoryIndexNotPersistent", func(t *testing.T) {
		idx := Memory[string](2).MustBuild()
		defer idx.Close()
		err := idx.Backup(ctx, blobs, "snapshots/mem")
		assert.ErrorIs(t, err, ErrNotPersistent)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "depot")
		idx, err := Disk[string](base, 2).Clustered().Build()
		require.NoError(t, err)
		for n := 0; n < 50; n++ {
			x := float64(n)
			require.NoError(t, idx.Insert(ctx, uint64(n), []float64{x, x, x + 1, x + 1}, "payload"))
		}

		require.NoError(t, idx.Backup(ctx, blobs, "snapshots/v1"))
		require.NoError(t, idx.Close())

		names, err := blobs.List(ctx, "snapshots/v1")
		require.NoError(t, err)
		assert.Len(t, names, 2, "index and data file")

		restored := filepath.Join(t.TempDir(), "restored")
		require.NoError(t, Restore(ctx, blobs, "snapshots/v1", restored))

		idx, err = Disk[string](filepath.Join(restored, "depot"), 2).Clustered().Build()
		require.NoError(t, err)
		defer idx.Close()
		assert.Equal(t, uint64(50), idx.Count())

		got, err := idx.Search(ctx, []float64{10, 10, 12, 12})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, "payload", got[0].Data)
	})

	t.Run("RestoreMissingPrefix", func(t *testing.T) {
		err := Restore(ctx, blobs, "snapshots/nope", t.TempDir())
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
