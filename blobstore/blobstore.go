// Package blobstore abstracts where snapshot images live: local disk,
// memory, or an object store (MinIO, S3).
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a named blob does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Blob is a read-only blob with random access.
type Blob interface {
	io.Closer

	// ReadAt reads into p starting at off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Size returns the blob length in bytes.
	Size() int64
}

// WritableBlob is a streaming blob writer. The blob becomes visible under
// its name only after Close.
type WritableBlob interface {
	io.WriteCloser

	// Sync flushes written data to durable storage where the backend
	// supports it.
	Sync() error
}

// BlobStore stores named blobs.
type BlobStore interface {
	// Open opens a blob for reading. Returns ErrNotFound when absent.
	Open(ctx context.Context, name string) (Blob, error)

	// Create creates a new writable blob, replacing any existing one on
	// Close.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting an absent blob is a no-op.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ReadAll reads the complete contents of a blob.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	data := make([]byte, b.Size())
	if len(data) == 0 {
		return data, nil
	}

	n, err := b.ReadAt(ctx, data, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return data[:n], nil
}
