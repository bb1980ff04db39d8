package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore persists blobs onto the local filesystem. It is intended for
// development and test environments where an object storage service is
// not available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath. baseURL is
// the public prefix blobs are served from.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes the blob under a date-partitioned generated key.
func (s *FileStore) Put(ctx context.Context, data []byte, contentType, keyPrefix string) (Object, error) {
	if s == nil {
		return Object{}, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if len(data) == 0 {
		return Object{}, errors.New("storage: no data to write")
	}
	key := generateKey(keyPrefix, contentType)
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: write file: %w", err)
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

// Read loads a blob by its storage key. Keys are cleaned to prevent
// directory traversal.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// URL maps a storage key to the public static prefix.
func (s *FileStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

func generateKey(prefix, contentType string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "blobs"
	}
	now := time.Now().UTC()
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+extensionForMIME(contentType))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ BlobStore = (*FileStore)(nil)
