package boxtree

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/boxtreedb/boxtree/blobstore"
)

// Backup flushes the index and copies both of its files to the blob
// store under the given prefix, uploading them in parallel. The index
// must be quiescent for the duration of the copy: run Backup only
// while no mutations are in flight. Memory indexes return
// ErrNotPersistent.
func (i *Index[T]) Backup(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	err := i.backup(ctx, store, prefix)
	i.logger.LogBackup(ctx, prefix, err)
	return err
}

func (i *Index[T]) backup(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	if i.store == nil {
		return ErrNotPersistent
	}
	if err := i.Flush(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, filePath := range []string{i.indexPath, i.dataPath} {
		g.Go(func() error {
			return uploadFile(ctx, store, path.Join(prefix, filepath.Base(filePath)), filePath)
		})
	}
	return g.Wait()
}

func uploadFile(ctx context.Context, store blobstore.BlobStore, name, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := store.Put(ctx, name, f, info.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Restore downloads every blob under prefix into dir, downloading in
// parallel. Afterwards the index can be reopened with Disk pointing at
// the restored path. Returns blobstore.ErrNotFound when the prefix
// holds no blobs.
func Restore(ctx context.Context, store blobstore.BlobStore, prefix, dir string) error {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no backup under %q: %w", prefix, blobstore.ErrNotFound)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return downloadFile(ctx, store, name, filepath.Join(dir, path.Base(name)))
		})
	}
	return g.Wait()
}

func downloadFile(ctx context.Context, store blobstore.BlobStore, name, dst string) error {
	r, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
