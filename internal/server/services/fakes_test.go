package services

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/cache"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/outbox"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/uploads"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

// fakeUploadsRepo keeps records in memory. Unimplemented methods panic via
// the embedded nil interface.
type fakeUploadsRepo struct {
	uploads.Repository

	mu        sync.Mutex
	byID      map[string]*models.Upload
	nextID    string
	createErr error
	getErr    error
	gets      int
}

func newFakeUploadsRepo() *fakeUploadsRepo {
	return &fakeUploadsRepo{byID: map[string]*models.Upload{}}
}

func (r *fakeUploadsRepo) Create(ctx context.Context, u *models.Upload) (*models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	u.ID = r.nextID
	cp := *u
	r.byID[u.ID] = &cp
	return u, nil
}

func (r *fakeUploadsRepo) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeOutboxRepo struct {
	outbox.Repository

	mu          sync.Mutex
	enqueued    []string
	dispatched  []int64
	enqueueErr  error
	dispatchErr error
}

func (r *fakeOutboxRepo) Enqueue(ctx context.Context, topic, payload string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enqueueErr != nil {
		return 0, r.enqueueErr
	}
	r.enqueued = append(r.enqueued, topic+"/"+payload)
	return int64(len(r.enqueued)), nil
}

func (r *fakeOutboxRepo) MarkDispatched(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dispatchErr != nil {
		return r.dispatchErr
	}
	r.dispatched = append(r.dispatched, id)
	return nil
}

type fakeRepoManager struct {
	uploads *fakeUploadsRepo
	outbox  *fakeOutboxRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Uploads(dbx.DBTX) uploads.Repository      { return m.uploads }
func (m *fakeRepoManager) Outbox(dbx.DBTX) outbox.Repository        { return m.outbox }

type fakeBlob struct {
	err   error
	names []string
}

func (b *fakeBlob) Upload(ctx context.Context, localPath, name string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	b.names = append(b.names, name)
	return "s3://bucket/csv/raw/" + name, nil
}

type fakePublisher struct {
	err  error
	sent []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, payload string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+"/"+payload)
	return nil
}

// fakeCache wraps a real cache so individual calls can be failed.
type fakeCache struct {
	StatusCache
	getErr error
	setErr error
}

func (c *fakeCache) Get(ctx context.Context, id string) (cache.Entry, bool, error) {
	if c.getErr != nil {
		return cache.Entry{}, false, c.getErr
	}
	return c.StatusCache.Get(ctx, id)
}

func (c *fakeCache) SetStatus(ctx context.Context, id string, s models.UploadStatus, p int) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.StatusCache.SetStatus(ctx, id, s, p)
}

func (c *fakeCache) SetNotFound(ctx context.Context, id string, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.StatusCache.SetNotFound(ctx, id, ttl)
}

func newRedisCache(t *testing.T) (*cache.RedisStatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewRedisStatusCache(rdb), mr
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	var c config.Config
	c.LoadDefaults()
	c.PublicBaseURL = "https://cdn.example/"
	c.CallTimeout = time.Second
	return &c
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "csvFile_01J_in.csv")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}
