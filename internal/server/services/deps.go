package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/server/cache"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
)

// BlobStore copies a local file to object storage and returns a reference URL.
type BlobStore interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
}

// Publisher delivers a bare payload to a queue topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// StatusCache is the fast-path store for upload progress.
type StatusCache interface {
	Get(ctx context.Context, id string) (cache.Entry, bool, error)
	SetStatus(ctx context.Context, id string, status models.UploadStatus, progress int) error
	SetNotFound(ctx context.Context, id string, ttl time.Duration) error
}

// withTimeout runs fn with a deadline of d derived from ctx.
func withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
