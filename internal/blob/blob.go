package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key has no stored bytes.
var ErrNotFound = errors.New("blob not found")

// Store is the byte side of the asset store. Implementations must support
// streaming reads; callers never buffer whole blobs.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// OpenRange streams length bytes starting at offset. length < 0 means
	// "to the end".
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
}
