package rest

import (
	"context"

	"github.com/dmitrijs2005/pixelriver/internal/filex"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/services"
	"github.com/gin-gonic/gin"
)

type UploadSubmitter interface {
	Submit(ctx context.Context, sub services.Submission) (*services.SubmitResult, error)
}

type StatusResolver interface {
	Status(ctx context.Context, uploadID string) (*services.StatusResult, error)
}

type Handler struct {
	uploads UploadSubmitter
	status  StatusResolver
	limits  UploadLimits
	log     logging.Logger
}

func NewHandler(us UploadSubmitter, sr StatusResolver, limits UploadLimits, l logging.Logger) *Handler {
	return &Handler{
		uploads: us,
		status:  sr,
		limits:  limits,
		log:     l.With("module", "rest_handler"),
	}
}

func (h *Handler) Health(c *gin.Context) {
	respondOK(c, "OK")
}

// Upload handles POST /uploads.
func (h *Handler) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	up, err := h.limits.spool(c)
	if err != nil {
		h.fail(c, "upload rejected", err)
		return
	}
	defer func() {
		if err := filex.RemoveIfExists(up.Path); err != nil {
			h.log.Warn(ctx, "failed to remove spooled file", "path", up.Path, "error", err)
		}
	}()

	res, err := h.uploads.Submit(ctx, services.Submission{
		LocalPath:        up.Path,
		OriginalFileName: up.OriginalName,
		FileName:         up.StoredName,
		WebhookURL:       up.WebhookURL,
	})
	if err != nil {
		h.fail(c, "upload failed", err, "file", up.StoredName)
		return
	}

	respondOK(c, uploadResponse{UploadID: res.UploadID, Status: string(res.Status)})
}

// Status handles GET /uploads/status?uploadId=.
func (h *Handler) Status(c *gin.Context) {
	id := c.Query("uploadId")

	res, err := h.status.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "status lookup failed", err, "upload_id", id)
		return
	}

	respondOK(c, statusResponse{
		Status:           string(res.Status),
		Progress:         res.Progress,
		ProcessedFileURL: res.ProcessedFileURL,
	})
}

func (h *Handler) fail(c *gin.Context, msg string, err error, args ...any) {
	code, text := httpError(err)
	args = append(args, "status", code, "error", err)
	if code >= 500 {
		h.log.Error(c.Request.Context(), msg, args...)
	} else {
		h.log.Info(c.Request.Context(), msg, args...)
	}
	respondError(c, code, text)
}
