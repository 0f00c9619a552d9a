// Package blob stores photo bytes in a content-addressed object store. Every
// blob is tagged with the MD5 hash of its content so identical photos are
// uploaded once and can be found again from the hash alone.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob matches a hash or id.
var ErrNotFound = errors.New("blob not found")

// Meta is the metadata returned alongside downloaded content.
type Meta struct {
	Hash string
	Size int64
}

// Store is the blob store surface the photo synchroniser needs.
type Store interface {
	// FindByHash returns the id of a blob tagged with hash, or ErrNotFound.
	FindByHash(ctx context.Context, hash string) (string, error)
	// Upload stores r tagged with hash and returns the new blob id.
	Upload(ctx context.Context, r io.ReadSeeker, hash string) (string, error)
	// Download opens the content of a blob. The caller closes the reader.
	Download(ctx context.Context, id string) (io.ReadCloser, Meta, error)
	// List returns the ids of every blob in the store.
	List(ctx context.Context) ([]string, error)
}
