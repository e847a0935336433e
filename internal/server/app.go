// Package server wires configuration, backing services and the HTTP API
// into a runnable application with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/blob"
	"github.com/dmitrijs2005/pixelriver/internal/server/cache"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/dmitrijs2005/pixelriver/internal/server/queue"
	"github.com/dmitrijs2005/pixelriver/internal/server/ratelimit"
	"github.com/dmitrijs2005/pixelriver/internal/server/relay"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pixelriver/internal/server/rest"
	"github.com/dmitrijs2005/pixelriver/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const bootstrapTimeout = 30 * time.Second

type publisher interface {
	Publish(ctx context.Context, topic, payload string) error
	Close() error
}

// infra holds the connections to every backing system. It is built once at
// start-up and handed to the components that need it.
type infra struct {
	db        *sql.DB
	redis     *redis.Client
	publisher publisher
	blob      *blob.S3Store
}

func (i *infra) close() error {
	var errs []error
	if i.publisher != nil {
		errs = append(errs, i.publisher.Close())
	}
	if i.redis != nil {
		errs = append(errs, i.redis.Close())
	}
	if i.db != nil {
		errs = append(errs, i.db.Close())
	}
	return errors.Join(errs...)
}

// Seams for tests.
var (
	openDB = func(ctx context.Context, dsn string) (*sql.DB, error) {
		return dbx.Open(ctx, "pgx", dsn)
	}
	newRepoManager = func() repomanager.RepositoryManager {
		return repomanager.NewPostgresRepositoryManager()
	}
	connectRedis = func(ctx context.Context, rawURL string) (*redis.Client, error) {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, err
		}
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
	newKafkaPublisher = func(ctx context.Context, brokers []string, timeout time.Duration) (publisher, error) {
		p, err := queue.NewKafkaPublisher(ctx, brokers, timeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	newBlobStore = blob.NewS3Store
)

type App struct {
	config *config.Config
	logger logging.Logger
	infra  *infra
	server *rest.HTTPServer
	relay  *relay.Relay
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	inf := &infra{}
	fail := func(step string, err error) (*App, error) {
		_ = inf.close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	m := newRepoManager()

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return fail("db init error", err)
	}
	inf.db = db

	if err := m.RunMigrations(ctx, db); err != nil {
		return fail("db migrations error", err)
	}

	rdb, err := connectRedis(ctx, c.RedisURL)
	if err != nil {
		return fail("redis init error", err)
	}
	inf.redis = rdb

	if c.QueueDisabled {
		inf.publisher = queue.NewDisabledPublisher(logger)
	} else {
		pub, err := newKafkaPublisher(ctx, c.KafkaBrokers, c.CallTimeout)
		if err != nil {
			return fail("kafka init error", err)
		}
		inf.publisher = pub
	}

	store, err := newBlobStore(ctx, blob.Options{
		Region:    c.S3Region,
		AccessKey: c.S3RootUser,
		SecretKey: c.S3RootPassword,
		Endpoint:  c.S3BaseEndpoint,
		Bucket:    c.S3Bucket,
		Prefix:    c.S3UploadPrefix,
	})
	if err != nil {
		return fail("s3 init error", err)
	}
	inf.blob = store

	limits, err := rest.NewUploadLimits(c)
	if err != nil {
		return fail("upload limits", err)
	}

	statusCache := cache.NewRedisStatusCache(inf.redis)
	limiter := ratelimit.New(inf.redis, "uploadId", c.RateLimitMax, c.RateLimitWindow)

	us := services.NewUploadService(db, m, inf.blob, inf.publisher, statusCache, logger, c)
	ss := services.NewStatusService(db, m, statusCache, logger, c)

	gin.SetMode(gin.ReleaseMode)
	h := rest.NewHandler(us, ss, limits, logger)

	return &App{
		config: c,
		logger: logger,
		infra:  inf,
		server: rest.NewHTTPServer(c.HTTPAddr, logger, h, limiter),
		relay:  relay.New(db, m, inf.publisher, logger, c),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves HTTP and runs the outbox relay until ctx is cancelled or a
// termination signal arrives, then releases all connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.relay.Run(ctx)
	}()

	wg.Wait()

	if err := app.infra.close(); err != nil {
		app.logger.Error(context.Background(), "closing connections", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
