package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/cache"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

type StatusResult struct {
	Status           models.UploadStatus
	Progress         int
	ProcessedFileURL string
}

// StatusService answers progress polls, cache first.
type StatusService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	cache         StatusCache
	log           logging.Logger
	publicBaseURL string
	notFoundTTL   time.Duration
	callTimeout   time.Duration
}

func NewStatusService(db *sql.DB, m repomanager.RepositoryManager, c StatusCache, l logging.Logger, cfg *config.Config) *StatusService {
	return &StatusService{
		db:            db,
		repomanager:   m,
		cache:         c,
		log:           l.With("module", "status_service"),
		publicBaseURL: cfg.PublicBaseURL,
		notFoundTTL:   cfg.NotFoundTTL,
		callTimeout:   cfg.CallTimeout,
	}
}

// Status resolves the progress of uploadID.
//
// A cached entry is returned as is, except for completed uploads whose
// processed file link needs the stored file name; if the uploads table is
// unreachable then, the cached status is returned without the link. A cache
// miss or an unreadable cache falls back to the uploads table. Unknown ids are cached
// negatively for notFoundTTL so repeated polls do not reach the database.
func (s *StatusService) Status(ctx context.Context, uploadID string) (*StatusResult, error) {
	parsed, err := uuid.Parse(uploadID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid upload id %q", common.ErrorValidation, uploadID)
	}
	id := parsed.String()

	var (
		entry cache.Entry
		hit   bool
	)
	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		var err error
		entry, hit, err = s.cache.Get(ctx, id)
		return err
	})
	if err != nil {
		s.log.Warn(ctx, "status cache read failed, using store", "upload_id", id, "error", err)
		hit = false
	}

	if hit {
		if entry.NotFound {
			return nil, notFound(id)
		}
		if entry.Status != models.StatusCompleted {
			return &StatusResult{Status: entry.Status, Progress: entry.Progress}, nil
		}
	}

	var upload *models.Upload
	err = withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		var err error
		upload, err = s.repomanager.Uploads(s.db).GetByID(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, common.ErrorNotFound):
		// a cached completed entry is the worker's; it is not replaced
		if !hit {
			s.rememberNotFound(ctx, id)
		}
		return nil, notFound(id)
	case err != nil && hit:
		s.log.Warn(ctx, "upload store unavailable, answering from cache", "upload_id", id, "error", err)
		return &StatusResult{Status: entry.Status, Progress: entry.Progress}, nil
	case err != nil:
		return nil, transient("load upload", err)
	}

	res := &StatusResult{Status: upload.Status, Progress: upload.Progress}
	if upload.Status == models.StatusCompleted {
		res.ProcessedFileURL = s.processedFileURL(upload.FileName)
	}
	return res, nil
}

func (s *StatusService) rememberNotFound(ctx context.Context, id string) {
	err := withTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		return s.cache.SetNotFound(ctx, id, s.notFoundTTL)
	})
	if err != nil {
		s.log.Warn(ctx, "failed to cache missing upload", "upload_id", id, "error", err)
	}
}

func (s *StatusService) processedFileURL(fileName string) string {
	u, err := url.JoinPath(s.publicBaseURL, fileName)
	if err != nil {
		return s.publicBaseURL + fileName
	}
	return u
}

func notFound(id string) error {
	return fmt.Errorf("%w: upload with id %s not found", common.ErrorNotFound, id)
}
