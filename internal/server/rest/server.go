// Package rest exposes the upload API over HTTP using gin.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

type HTTPServer struct {
	address string
	engine  *gin.Engine
	logger  logging.Logger
}

func NewHTTPServer(a string, l logging.Logger, h *Handler, limiter Limiter) *HTTPServer {
	logger := l.With("module", "http_server")

	return &HTTPServer{
		address: a,
		engine:  newRouter(logger, h, limiter),
		logger:  logger,
	}
}

func newRouter(l logging.Logger, h *Handler, limiter Limiter) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = h.limits.MaxSizeBytes
	r.Use(recovery(l), requestLogger(l), allowCORS())

	r.GET("/health", h.Health)

	uploads := r.Group("/uploads")
	{
		uploads.POST("", h.Upload)
		uploads.GET("/status", rateLimit(limiter, uploadIDBasis, l, time.Now), h.Status)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Not Found")
	})

	return r
}

// Handler returns the routed engine, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
