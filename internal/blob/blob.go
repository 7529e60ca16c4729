// Package blob defines the artifact byte-storage abstraction. Crawled pages
// and documents are written through a BlobStore so runs can target the local
// filesystem, Google Cloud Storage, or memory without the store layer caring.
package blob

import (
	"context"
	"io"
)

// BlobStore persists raw artifact bytes under a path and returns the URI the
// artifact can be retrieved from.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
