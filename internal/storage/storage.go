// Package storage provides object storage for segment files. Segments are
// written once and read many times, so the surface is a small put/get
// store with existence checks and prefix listing for reconciliation.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the segment object store. Implementations
// include S3 and the local filesystem for development and testing.
type ObjectStorage interface {
	// Put writes an object. Existing objects are overwritten.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object in full. Returns ErrObjectNotFound when the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all object keys under the given prefix. Used by
	// garbage collection to detect orphaned segments.
	List(ctx context.Context, prefix string) ([]string, error)
}
