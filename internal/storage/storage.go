package storage

import "context"

// MediaStore is the object-storage boundary for generated media. Keys are
// opaque object names; PublicURL resolves a key to the URL served to
// clients.
type MediaStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}
