package rest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Limiter interface {
	Allow(ctx context.Context, basis string) (ratelimit.Decision, error)
}

// uploadIDBasis keys the poll limit on the canonical form of the uploadId
// query parameter, so every spelling the status lookup accepts for one id
// (upper case, braces, urn:uuid:, no dashes) shares a single counter.
func uploadIDBasis(c *gin.Context) string {
	raw := c.Query("uploadId")
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

// rateLimit rejects requests once the basis value extracted from the request
// exceeds the limiter's window.
func rateLimit(l Limiter, basis func(*gin.Context) string, log logging.Logger, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		d, err := l.Allow(ctx, basis(c))
		switch {
		case errors.Is(err, ratelimit.ErrMissingBasis):
			log.Error(ctx, "rate limit basis missing", "path", c.Request.URL.Path)
			respondError(c, http.StatusInternalServerError, "Rate limiting Error")
			return
		case errors.Is(err, common.ErrRateLimitExceeded):
			setLimitHeaders(c, d)
			retry := int(math.Ceil(d.ResetAt.Sub(now()).Seconds()))
			c.Header(common.RetryAfterHeader, strconv.Itoa(max(retry, 1)))
			respondError(c, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			return
		case err != nil:
			log.Error(ctx, "rate limiter unavailable", "error", err)
			code, msg := httpError(err)
			respondError(c, code, msg)
			return
		}

		setLimitHeaders(c, d)
		c.Next()
	}
}

func setLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header(common.RateLimitLimitHeader, strconv.FormatInt(d.Limit, 10))
	c.Header(common.RateLimitRemainingHeader, strconv.FormatInt(d.Remaining, 10))
}

// allowCORS opens the API to browser clients on any origin and lets them
// read the rate-limit headers.
func allowCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodHead, http.MethodPost},
		AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length"},
		ExposeHeaders: []string{
			common.RateLimitLimitHeader,
			common.RateLimitRemainingHeader,
			common.RetryAfterHeader,
		},
		MaxAge: 12 * time.Hour,
	})
}

// requestLogger logs one line per request after it completes.
func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// recovery turns a handler panic into a 500 envelope.
func recovery(log logging.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error(c.Request.Context(), "panic in handler", "panic", rec, "path", c.Request.URL.Path)
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	})
}
