package rest

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/gin-gonic/gin"
)

// envelope is the JSON body of every response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type uploadResponse struct {
	UploadID string `json:"uploadId"`
	Status   string `json:"status"`
}

type statusResponse struct {
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	ProcessedFileURL string `json:"processedFileUrl,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, envelope{Success: false, Error: msg})
}

// httpError maps an error to a status code and a message safe to show to
// clients. Validation and not-found messages describe the client's input
// and are passed through; anything else is replaced by a generic text.
func httpError(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, common.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "Rate limit exceeded. Try again later."
	case errors.Is(err, common.ErrTransient):
		return http.StatusServiceUnavailable, "Service temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}
