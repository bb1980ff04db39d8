// Package tempcache provides short-TTL local staging for freshly
// uploaded input blobs, so a job running seconds after an upload does
// not need a durable-store round trip. Entries expire hard after the
// TTL; resolution past expiry is always a cache miss, never an error.
package tempcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds staleness and disk growth for staged blobs.
const DefaultTTL = 5 * time.Minute

// ErrAbsent is returned by Resolve when the entry was never registered,
// has expired, or its backing file is gone. Callers must fall back to
// durable storage, never treat it as a failure.
var ErrAbsent = errors.New("tempcache: entry absent")

// Entry is the registry record for one staged blob.
type Entry struct {
	TempID      string    `json:"temp_id"`
	LocalPath   string    `json:"local_path"`
	OwnerUserID string    `json:"owner_user_id"`
	DurableRef  string    `json:"durable_ref"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Metadata accompanies a staged blob at store time.
type Metadata struct {
	OwnerUserID string
	DurableRef  string
}

// Cache is the staging contract shared by the in-memory and Redis-backed
// registries.
type Cache interface {
	// Store copies the source blob into the staging area and registers it
	// under a fresh id. The caller's original file is never moved.
	Store(ctx context.Context, localPath string, meta Metadata) (string, error)
	// Resolve returns the staged path, or ErrAbsent (self-healing: an
	// expired or broken entry is evicted on observation).
	Resolve(ctx context.Context, tempID string) (string, error)
	// Release removes the entry and its file. Idempotent; releasing an
	// unknown id reports false without error.
	Release(ctx context.Context, tempID string) bool
	// SweepExpired removes every entry past its TTL and returns the count.
	SweepExpired(ctx context.Context) int
}

// MemoryCache keeps the registry in process memory. Entries are keyed by
// unique id, so concurrent jobs never contend beyond map access.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	baseDir string
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewMemoryCache creates a process-local cache rooted at baseDir.
func NewMemoryCache(baseDir string, ttl time.Duration, logger zerolog.Logger) (*MemoryCache, error) {
	if baseDir == "" {
		return nil, errors.New("tempcache: base dir is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("tempcache: ensure base dir: %w", err)
	}
	return &MemoryCache{
		entries: make(map[string]Entry),
		baseDir: baseDir,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

func (c *MemoryCache) Store(ctx context.Context, localPath string, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tempID := uuid.NewString()
	staged := filepath.Join(c.baseDir, tempID+filepath.Ext(localPath))
	if err := copyFile(localPath, staged); err != nil {
		return "", fmt.Errorf("tempcache: stage blob: %w", err)
	}
	now := time.Now()
	entry := Entry{
		TempID:      tempID,
		LocalPath:   staged,
		OwnerUserID: meta.OwnerUserID,
		DurableRef:  meta.DurableRef,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[tempID] = entry
	c.mu.Unlock()

	c.logger.Debug().Str("temp_id", tempID).Str("durable_ref", meta.DurableRef).Msg("tempcache: stored entry")
	return tempID, nil
}

func (c *MemoryCache) Resolve(ctx context.Context, tempID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	entry, ok := c.entries[tempID]
	if ok && time.Now().After(entry.ExpiresAt) {
		delete(c.entries, tempID)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return "", ErrAbsent
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		// Physical file missing: evict so the next reader misses cleanly.
		c.mu.Lock()
		delete(c.entries, tempID)
		c.mu.Unlock()
		return "", ErrAbsent
	}
	return entry.LocalPath, nil
}

func (c *MemoryCache) Release(ctx context.Context, tempID string) bool {
	c.mu.Lock()
	entry, ok := c.entries[tempID]
	if ok {
		delete(c.entries, tempID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("temp_id", tempID).Msg("tempcache: release could not remove file")
	}
	return true
}

func (c *MemoryCache) SweepExpired(ctx context.Context) int {
	now := time.Now()

	c.mu.Lock()
	var expired []Entry
	for id, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, entry)
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("temp_id", entry.TempID).Msg("tempcache: sweep could not remove file")
		}
	}
	if len(expired) > 0 {
		c.logger.Info().Int("count", len(expired)).Msg("tempcache: swept expired entries")
	}
	return len(expired)
}

// RunSweeper sweeps at the given interval until ctx is done. Read paths
// already evict lazily; the sweeper only bounds disk usage for entries
// nobody touches again.
func RunSweeper(ctx context.Context, c Cache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepExpired(ctx)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
