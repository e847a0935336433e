package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/server/ratelimit"
	"github.com/dmitrijs2005/pixelriver/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(l Limiter, now func() time.Time) *gin.Engine {
	r := gin.New()
	r.GET("/x", rateLimit(l, uploadIDBasis, nopLogger{}, now), func(c *gin.Context) {
		respondOK(c, "OK")
	})
	return r
}

func TestRateLimit_SixthPollRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := limitedRouter(ratelimit.New(rdb, "status", 5, time.Minute), time.Now)

	for i := 1; i <= 5; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?uploadId=abc", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(5-i), rec.Header().Get(common.RateLimitRemainingHeader))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?uploadId=abc", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Rate limit exceeded. Try again later."}`, rec.Body.String())

	retry, err := strconv.Atoi(rec.Header().Get(common.RetryAfterHeader))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?uploadId=other", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadIDBasis(t *testing.T) {
	const canonical = "6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f"
	tests := []struct {
		in   string
		want string
	}{
		{canonical, canonical},
		{"6F1C1D2E-3B4A-4C5D-9E6F-7A8B9C0D1E2F", canonical},
		{"{6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f}", canonical},
		{"urn:uuid:6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f", canonical},
		{"6f1c1d2e3b4a4c5d9e6f7a8b9c0d1e2f", canonical},
		{"not-an-id", "not-an-id"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/x?"+url.Values{"uploadId": {tt.in}}.Encode(), nil)
			assert.Equal(t, tt.want, uploadIDBasis(c))
		})
	}
}

func TestRateLimit_SpellingsOfOneIDShareTheLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	res := &fakeResolver{res: &services.StatusResult{Status: "processing", Progress: 10}}
	h := NewHandler(&fakeSubmitter{}, res, testLimits(t), nopLogger{})
	r := newRouter(nopLogger{}, h, ratelimit.New(rdb, "uploadId", 5, time.Minute))

	spellings := []string{
		"6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f",
		"6F1C1D2E-3B4A-4C5D-9E6F-7A8B9C0D1E2F",
		"{6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f}",
		"urn:uuid:6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f",
		"6f1c1d2e3b4a4c5d9e6f7a8b9c0d1e2f",
		"6F1C1D2E3B4A4C5D9E6F7A8B9C0D1E2F",
	}

	admitted := 0
	for _, id := range spellings {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/status?"+url.Values{"uploadId": {id}}.Encode(), nil))
		if rec.Code == http.StatusOK {
			admitted++
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, id)
	}

	assert.Equal(t, 5, admitted)
	assert.Equal(t, 5, res.calls)
}

func TestRateLimit_RetryAfterFromReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := &fakeLimiter{
		d:   ratelimit.Decision{Limit: 5, ResetAt: now.Add(2500 * time.Millisecond)},
		err: common.ErrRateLimitExceeded,
	}
	r := limitedRouter(l, func() time.Time { return now })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?uploadId=a", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get(common.RetryAfterHeader))
	assert.Equal(t, "0", rec.Header().Get(common.RateLimitRemainingHeader))
}

func TestRateLimit_BackendDown(t *testing.T) {
	l := &fakeLimiter{err: fmt.Errorf("%w: rate limit counter: %v", common.ErrTransient, errors.New("dial tcp"))}
	r := limitedRouter(l, time.Now)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?uploadId=a", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "dial tcp")
}

func TestCORS(t *testing.T) {
	r, _ := setupRouter(t, &fakeSubmitter{}, &fakeResolver{})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/uploads", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("simple request exposes limit headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://shop.example")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		exposed := strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers"))
		assert.Contains(t, exposed, strings.ToLower(common.RateLimitRemainingHeader))
		assert.Contains(t, exposed, strings.ToLower(common.RetryAfterHeader))
	})
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(recovery(nopLogger{}), requestLogger(nopLogger{}))
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil).WithContext(context.Background()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal Server Error"}`, rec.Body.String())
}
