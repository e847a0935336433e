// Package cache keeps the fast-path view of upload progress in Redis.
//
// Entries are keyed by the bare upload id because the processing worker
// reads and updates the same keys.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const entryVersion = 1

const notFoundStatus = "not-found"

// Entry is a decoded cache value. NotFound marks a negative entry, in which
// case Status is empty.
type Entry struct {
	NotFound bool
	Status   models.UploadStatus
	Progress int
}

type wireEntry struct {
	V        int    `json:"v"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type RedisStatusCache struct {
	rdb redis.Cmdable
}

func NewRedisStatusCache(rdb redis.Cmdable) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb}
}

// Get returns the entry for id. ok is false when the key is absent or holds a
// value this service does not understand.
func (c *RedisStatusCache) Get(ctx context.Context, id string) (Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, id).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	e, ok := Decode(raw)
	return e, ok, nil
}

// SetStatus stores status and progress without expiry.
func (c *RedisStatusCache) SetStatus(ctx context.Context, id string, status models.UploadStatus, progress int) error {
	return c.set(ctx, id, wireEntry{V: entryVersion, Status: string(status), Progress: progress}, 0)
}

// SetNotFound stores a negative entry that expires after ttl.
func (c *RedisStatusCache) SetNotFound(ctx context.Context, id string, ttl time.Duration) error {
	return c.set(ctx, id, wireEntry{V: entryVersion, Status: notFoundStatus}, ttl)
}

func (c *RedisStatusCache) set(ctx context.Context, id string, w wireEntry, ttl time.Duration) error {
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, id, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Decode parses a cache value. Besides the JSON form it accepts the older
// "<status>:<progress>" strings that workers may still write.
func Decode(raw string) (Entry, bool) {
	if strings.HasPrefix(raw, "{") {
		var w wireEntry
		if err := json.Unmarshal([]byte(raw), &w); err != nil || w.V != entryVersion {
			return Entry{}, false
		}
		return toEntry(w.Status, w.Progress)
	}

	i := strings.LastIndexByte(raw, ':')
	if i < 0 {
		return Entry{}, false
	}
	progress, err := strconv.Atoi(strings.TrimSpace(raw[i+1:]))
	if err != nil {
		return Entry{}, false
	}
	return toEntry(legacyStatus(raw[:i]), progress)
}

func toEntry(status string, progress int) (Entry, bool) {
	if progress < 0 || progress > 100 {
		return Entry{}, false
	}
	if status == notFoundStatus {
		return Entry{NotFound: true}, true
	}
	s, err := models.ParseUploadStatus(status)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Status: s, Progress: progress}, true
}

func legacyStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file not found", "not found", notFoundStatus:
		return notFoundStatus
	case "in_progess", "in_progress":
		return string(models.StatusProcessing)
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}
