package storage

import (
	"context"
	"io"
)

// ObjectStorage stores generated artifacts (images, thumbnails, 3D models)
// under opaque string keys. Implementations cover the local filesystem,
// MinIO, and the S3 family; callers never see which one they hold.
type ObjectStorage interface {
	// Upload writes one object. size must match the reader's length.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the client-facing URL for an object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
}
