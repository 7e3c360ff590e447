// Package blobstore abstracts object storage for index backups.
//
// A BlobStore holds immutable named blobs. Backups write the index and
// data files as two blobs under a common prefix; restores stream them
// back. Implementations must be safe for concurrent use.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing and retrieving immutable
// blobs.
type BlobStore interface {
	// Put writes a blob atomically, replacing any previous content.
	// size is the number of bytes r will yield, or -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
