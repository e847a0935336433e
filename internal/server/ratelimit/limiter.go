// Package ratelimit implements a fixed-window request counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/redis/go-redis/v9"
)

// ErrMissingBasis means the caller did not supply the value to limit on.
// It is a server-side usage error, not a client rejection.
var ErrMissingBasis = fmt.Errorf("%w: rate limit basis is empty", common.ErrorInternal)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

type Limiter struct {
	rdb    redis.Cmdable
	name   string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// New returns a limiter allowing limit requests per window for each basis
// value. name separates counters of different limiters sharing one Redis.
func New(rdb redis.Cmdable, name string, limit int64, window time.Duration) *Limiter {
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		rdb:    rdb,
		name:   name,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) Limit() int64 { return l.limit }

// Allow counts one request for basis. When the window is exhausted the
// returned error wraps common.ErrRateLimitExceeded and the decision carries
// the time the window resets.
func (l *Limiter) Allow(ctx context.Context, basis string) (Decision, error) {
	if basis == "" {
		return Decision{}, ErrMissingBasis
	}

	secs := int64(l.window / time.Second)
	bucket := l.now().Unix() / secs
	key := fmt.Sprintf("rl:%s:%s:%d", l.name, basis, bucket)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: rate limit counter: %v", common.ErrTransient, err)
	}

	count := incr.Val()
	d := Decision{
		Allowed:   count <= l.limit,
		Count:     count,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   time.Unix((bucket+1)*secs, 0),
	}
	if !d.Allowed {
		return d, common.ErrRateLimitExceeded
	}
	return d, nil
}
