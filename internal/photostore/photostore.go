package photostore

import (
	"context"
	"errors"
	"io"
	"time"
)

// SignedURLTTL is the lifetime of every signed photo URL handed to browsers.
const SignedURLTTL = time.Hour

var ErrNotFound = errors.New("photo not found")

// PhotoStore holds the photo objects. Paths are chosen by the caller and are
// unique per upload.
type PhotoStore interface {
	Upload(ctx context.Context, path, mimeType string, r io.Reader) error
	Remove(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
