package storage

import "context"

// Object identifies one durably stored blob.
type Object struct {
	Key string
	URL string
}

// BlobStore is the durable blob contract. Implementations are treated as
// single-region and strongly consistent.
type BlobStore interface {
	// Put persists the blob under a generated key and returns its durable
	// identity and public address.
	Put(ctx context.Context, data []byte, contentType, keyPrefix string) (Object, error)
	// Read fetches the blob bytes back by key.
	Read(ctx context.Context, key string) ([]byte, error)
	// URL maps a storage key to its public address.
	URL(key string) string
}

func extensionForMIME(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
