package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/csvx"
	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/filex"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/repomanager"
)

// Submission is a CSV file already spooled to local disk.
type Submission struct {
	// LocalPath is the spooled file. It is removed once it reaches blob storage.
	LocalPath string
	// OriginalFileName is the client's name for the file.
	OriginalFileName string
	// FileName is the stored name, used for the blob key and the processed output.
	FileName   string
	WebhookURL string
}

type SubmitResult struct {
	UploadID string
	Status   models.UploadStatus
}

// UploadService admits validated CSV uploads for asynchronous processing.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blob        BlobStore
	publisher   Publisher
	cache       StatusCache
	log         logging.Logger
	topic       string
	callTimeout time.Duration
	now         func() time.Time
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, blob BlobStore, pub Publisher,
	c StatusCache, l logging.Logger, cfg *config.Config) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: m,
		blob:        blob,
		publisher:   pub,
		cache:       c,
		log:         l.With("module", "upload_service"),
		topic:       cfg.UploadTopic,
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}
}

// Submit validates the file and then, in order: stores it in blob storage,
// records the upload together with its outbox message, publishes the upload
// id and seeds the status cache. A failing step stops the sequence and is
// reported as common.ErrTransient. An upload id whose publish failed stays
// in the outbox and is delivered by the relay.
func (s *UploadService) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	res, err := csvx.Validate(sub.LocalPath)
	if err != nil {
		if errors.Is(err, common.ErrorValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	s.log.Debug(ctx, "csv validated", "file", sub.FileName, "rows", res.Rows, "image_urls", res.ImageURLs)

	var sourceURL string
	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		var err error
		sourceURL, err = s.blob.Upload(ctx, sub.LocalPath, sub.FileName)
		return err
	})
	if err != nil {
		return nil, transient("blob upload", err)
	}

	if err := filex.RemoveIfExists(sub.LocalPath); err != nil {
		s.log.Warn(ctx, "failed to remove spooled file", "path", sub.LocalPath, "error", err)
	}

	now := s.now().UTC()
	upload := &models.Upload{
		OriginalFileName: sub.OriginalFileName,
		FileName:         sub.FileName,
		SourceURL:        sourceURL,
		WebhookURL:       sub.WebhookURL,
		Status:           models.StatusQueued,
		Progress:         0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var outboxID int64
	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if _, err := s.repomanager.Uploads(tx).Create(ctx, upload); err != nil {
				return fmt.Errorf("create upload: %w", err)
			}
			id, err := s.repomanager.Outbox(tx).Enqueue(ctx, s.topic, upload.ID)
			if err != nil {
				return fmt.Errorf("enqueue outbox: %w", err)
			}
			outboxID = id
			return nil
		})
	})
	if err != nil {
		return nil, transient("store upload", err)
	}

	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, s.topic, upload.ID)
	})
	if err != nil {
		s.log.Error(ctx, "publish failed, left for outbox relay", "upload_id", upload.ID, "error", err)
		return nil, transient("publish upload", err)
	}

	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.repomanager.Outbox(s.db).MarkDispatched(ctx, outboxID)
	})
	if err != nil {
		// The relay publishes this id again later.
		s.log.Warn(ctx, "failed to mark outbox message dispatched", "outbox_id", outboxID, "error", err)
	}

	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.cache.SetStatus(ctx, upload.ID, models.StatusQueued, 0)
	})
	if err != nil {
		return nil, transient("seed status cache", err)
	}

	s.log.Info(ctx, "upload queued", "upload_id", upload.ID, "file", sub.FileName)

	return &SubmitResult{UploadID: upload.ID, Status: models.StatusQueued}, nil
}

func transient(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrTransient, step, err)
}
