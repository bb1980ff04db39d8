package tempcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache keeps the registry in Redis so multiple worker processes on
// the same host (or sharing a staging volume) see one another's entries.
// Expiry rides on Redis native TTL; the staged file itself stays on the
// shared baseDir.
type RedisCache struct {
	rc      *redis.Client
	baseDir string
	ttl     time.Duration
	prefix  string
	logger  zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache rooted at baseDir.
func NewRedisCache(rc *redis.Client, baseDir string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	if rc == nil {
		return nil, errors.New("tempcache: redis client is required")
	}
	if baseDir == "" {
		return nil, errors.New("tempcache: base dir is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("tempcache: ensure base dir: %w", err)
	}
	return &RedisCache{
		rc:      rc,
		baseDir: baseDir,
		ttl:     ttl,
		prefix:  "tempcache:",
		logger:  logger,
	}, nil
}

func (c *RedisCache) key(tempID string) string { return c.prefix + tempID }

func (c *RedisCache) Store(ctx context.Context, localPath string, meta Metadata) (string, error) {
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
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("tempcache: marshal entry: %w", err)
	}
	if err := c.rc.Set(ctx, c.key(tempID), payload, c.ttl).Err(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("tempcache: register entry: %w", err)
	}
	c.logger.Debug().Str("temp_id", tempID).Str("durable_ref", meta.DurableRef).Msg("tempcache: stored entry")
	return tempID, nil
}

func (c *RedisCache) Resolve(ctx context.Context, tempID string) (string, error) {
	raw, err := c.rc.Get(ctx, c.key(tempID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrAbsent
		}
		// Registry unreachable: report a miss so the caller falls back to
		// durable storage instead of failing the job.
		c.logger.Warn().Err(err).Str("temp_id", tempID).Msg("tempcache: redis resolve failed")
		return "", ErrAbsent
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = c.rc.Del(ctx, c.key(tempID)).Err()
		return "", ErrAbsent
	}
	if time.Now().After(entry.ExpiresAt) {
		_ = c.rc.Del(ctx, c.key(tempID)).Err()
		return "", ErrAbsent
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		_ = c.rc.Del(ctx, c.key(tempID)).Err()
		return "", ErrAbsent
	}
	return entry.LocalPath, nil
}

func (c *RedisCache) Release(ctx context.Context, tempID string) bool {
	raw, err := c.rc.GetDel(ctx, c.key(tempID)).Result()
	if err != nil {
		return false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false
	}
	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("temp_id", tempID).Msg("tempcache: release could not remove file")
	}
	return true
}

// SweepExpired scans for orphaned staged files whose registry entries
// already expired in Redis. Redis drops the keys itself, so the sweep
// only reclaims disk.
func (c *RedisCache) SweepExpired(ctx context.Context) int {
	files, err := os.ReadDir(c.baseDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		tempID := name[:len(name)-len(filepath.Ext(name))]
		if _, err := uuid.Parse(tempID); err != nil {
			continue
		}
		exists, err := c.rc.Exists(ctx, c.key(tempID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		info, err := f.Info()
		if err != nil || time.Since(info.ModTime()) < c.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(c.baseDir, name)); err == nil {
			count++
		}
	}
	if count > 0 {
		c.logger.Info().Int("count", count).Msg("tempcache: swept orphaned files")
	}
	return count
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
