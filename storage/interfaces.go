package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by BlobStore.Download for a missing object.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore is the object-store contract the image pipeline requires.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	PublicURL(path string) string
}
