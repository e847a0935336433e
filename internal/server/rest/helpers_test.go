package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/ratelimit"
	"github.com/dmitrijs2005/pixelriver/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type fakeSubmitter struct {
	got     *services.Submission
	content string
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, sub services.Submission) (*services.SubmitResult, error) {
	f.got = &sub
	b, err := os.ReadFile(sub.LocalPath)
	if err != nil {
		return nil, err
	}
	f.content = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &services.SubmitResult{UploadID: "6f1c1d2e-3b4a-4c5d-9e6f-7a8b9c0d1e2f", Status: "queued"}, nil
}

type fakeResolver struct {
	res   *services.StatusResult
	err   error
	calls int
}

func (f *fakeResolver) Status(ctx context.Context, id string) (*services.StatusResult, error) {
	f.calls++
	return f.res, f.err
}

type fakeLimiter struct {
	d   ratelimit.Decision
	err error
}

func (f *fakeLimiter) Allow(ctx context.Context, basis string) (ratelimit.Decision, error) {
	if basis == "" {
		return ratelimit.Decision{}, ratelimit.ErrMissingBasis
	}
	return f.d, f.err
}

func testLimits(t *testing.T) UploadLimits {
	t.Helper()
	return UploadLimits{
		FieldName:        uploadField,
		MaxFiles:         1,
		MaxSizeBytes:     1 << 10,
		AllowedExtension: ".csv",
		Dir:              t.TempDir(),
	}
}

type part struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, target string, files []part, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	es, err := os.ReadDir(dir)
	require.NoError(t, err)
	return es
}
