package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/flagx"
	"github.com/joho/godotenv"
)

// loadDotEnv is a seam for tests. godotenv never overrides variables that
// are already set in the process environment.
var loadDotEnv = func() error { return godotenv.Load() }

// parseEnv overlays Config with environment variables. A .env file in the
// working directory is loaded first when present.
//
// Recognised variables:
//
//	HTTP_ADDR, DATABASE_DSN, REDIS_URI, KAFKA_BROKERS (comma separated),
//	DISABLE_KAFKA, UPLOAD_TOPIC, S3_ROOT_USER, S3_ROOT_PASSWORD, S3_BUCKET,
//	S3_REGION, S3_BASE_ENDPOINT, S3_UPLOAD_PREFIX, PROCESSED_FILE_PUBLIC_URL,
//	UPLOAD_DIR, RATE_LIMIT_MAX, RATE_LIMIT_WINDOW, CALL_TIMEOUT,
//	OUTBOX_POLL_INTERVAL, OUTBOX_BATCH_SIZE, OUTBOX_GRACE_PERIOD,
//	OUTBOX_PUBLISH_RPS, LOG_LEVEL
func parseEnv(c *Config) error {
	if err := loadDotEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	e := envReader{}

	e.str("HTTP_ADDR", &c.HTTPAddr)
	e.str("DATABASE_DSN", &c.DatabaseDSN)
	e.str("REDIS_URI", &c.RedisURL)
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.KafkaBrokers = flagx.SplitList(v)
	}
	e.boolean("DISABLE_KAFKA", &c.QueueDisabled)
	e.str("UPLOAD_TOPIC", &c.UploadTopic)

	e.str("S3_ROOT_USER", &c.S3RootUser)
	e.str("S3_ROOT_PASSWORD", &c.S3RootPassword)
	e.str("S3_BUCKET", &c.S3Bucket)
	e.str("S3_REGION", &c.S3Region)
	e.str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	e.str("S3_UPLOAD_PREFIX", &c.S3UploadPrefix)
	e.str("PROCESSED_FILE_PUBLIC_URL", &c.PublicBaseURL)

	e.str("UPLOAD_DIR", &c.UploadDir)
	e.int64("RATE_LIMIT_MAX", &c.RateLimitMax)
	e.duration("RATE_LIMIT_WINDOW", &c.RateLimitWindow)
	e.duration("CALL_TIMEOUT", &c.CallTimeout)

	e.duration("OUTBOX_POLL_INTERVAL", &c.OutboxPollInterval)
	var batch int64
	if e.int64("OUTBOX_BATCH_SIZE", &batch) {
		c.OutboxBatchSize = int(batch)
	}
	e.duration("OUTBOX_GRACE_PERIOD", &c.OutboxGracePeriod)
	e.float("OUTBOX_PUBLISH_RPS", &c.OutboxPublishRPS)
	e.duration("OUTBOX_LEASE", &c.OutboxLease)
	var attempts int64
	if e.int64("OUTBOX_MAX_ATTEMPTS", &attempts) {
		c.OutboxMaxAttempts = int(attempts)
	}

	e.str("LOG_LEVEL", &c.LogLevel)

	return e.err
}

func lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// envReader keeps the first conversion error so parseEnv reads linearly.
type envReader struct {
	err error
}

func (e *envReader) fail(k, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", k, v, err)
	}
}

func (e *envReader) str(k string, dst *string) {
	if v, ok := lookup(k); ok {
		*dst = v
	}
}

func (e *envReader) boolean(k string, dst *bool) {
	v, ok := lookup(k)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return
	}
	*dst = b
}

func (e *envReader) int64(k string, dst *int64) bool {
	v, ok := lookup(k)
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(k, v, err)
		return false
	}
	*dst = n
	return true
}

func (e *envReader) float(k string, dst *float64) {
	v, ok := lookup(k)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return
	}
	*dst = f
}

// duration accepts Go duration strings ("90s") or a plain number of seconds.
func (e *envReader) duration(k string, dst *time.Duration) {
	v, ok := lookup(k)
	if !ok {
		return
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return
	}
	*dst = d
}
