package storage

import (
	"context"
	"io"
)

// FileStore is where device photos live. The local implementation serves
// files back through the API; a bucket-backed one could hand out URLs
// directly.
type FileStore interface {
	// SaveFile writes reader under key, creating parent directories.
	SaveFile(key string, reader io.Reader) error

	// ReadFile opens the file stored under key.
	ReadFile(key string) (io.ReadCloser, error)

	// FileExists checks if a file exists and returns its size
	FileExists(ctx context.Context, key string) (exists bool, size int64, err error)

	// DeleteFile removes a file from storage
	DeleteFile(ctx context.Context, key string) error

	// URL is the address the file under key is served from.
	URL(key string) string
}
