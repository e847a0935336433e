// Package relay republishes upload ids whose inline publish did not complete.
//
// Rows are leased with a short UPDATE using FOR UPDATE SKIP LOCKED, so
// several API instances can run a relay against one database and no
// transaction stays open while a message is published. Delivery is
// at-least-once.
package relay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/logging"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/outbox"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const publishAttempts = 3

type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

type Relay struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	log         logging.Logger
	limiter     *rate.Limiter

	interval    time.Duration
	grace       time.Duration
	batchSize   int
	callTimeout time.Duration
	lease       time.Duration
	maxAttempts int

	backoff func() retry.Backoff
	now     func() time.Time
}

func New(db *sql.DB, m repomanager.RepositoryManager, pub Publisher, l logging.Logger, cfg *config.Config) *Relay {
	return &Relay{
		db:          db,
		repomanager: m,
		publisher:   pub,
		log:         l.With("module", "outbox_relay"),
		limiter:     rate.NewLimiter(rate.Limit(cfg.OutboxPublishRPS), 1),
		interval:    cfg.OutboxPollInterval,
		grace:       cfg.OutboxGracePeriod,
		batchSize:   cfg.OutboxBatchSize,
		callTimeout: cfg.CallTimeout,
		lease:       cfg.OutboxLease,
		maxAttempts: cfg.OutboxMaxAttempts,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(publishAttempts-1, retry.NewExponential(200*time.Millisecond))
		},
		now: time.Now,
	}
}

// Run flushes the outbox every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info(ctx, "Starting outbox relay", "interval", r.interval.String(), "batch", r.batchSize)

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info(ctx, "Stopping outbox relay...")
			return
		case <-t.C:
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				r.log.Error(ctx, "outbox flush failed", "error", err)
			}
			if n > 0 {
				r.log.Info(ctx, "outbox messages dispatched", "count", n)
			}
		}
	}
}

// Flush publishes one batch of pending messages older than the grace period
// and returns how many were dispatched. A message that still fails after
// retries gets its attempt counter bumped and its lease released; it is
// retried on a later flush until it reaches maxAttempts.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	repo := r.repomanager.Outbox(r.db)

	now := r.now()
	msgs, err := repo.ClaimPending(ctx, outbox.Claim{
		CreatedBefore: now.Add(-r.grace),
		Now:           now,
		LeaseUntil:    now.Add(r.lease),
		MaxAttempts:   r.maxAttempts,
		Limit:         r.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("outbox flush: %w", err)
	}

	dispatched := 0
	for _, m := range msgs {
		if err := r.limiter.Wait(ctx); err != nil {
			return dispatched, fmt.Errorf("outbox flush: %w", err)
		}

		if err := r.publish(ctx, m.Topic, m.Payload); err != nil {
			attempts := m.Attempts + 1
			if attempts >= r.maxAttempts {
				r.log.Error(ctx, "outbox message abandoned", "outbox_id", m.ID, "attempts", attempts, "error", err)
			} else {
				r.log.Warn(ctx, "outbox publish failed", "outbox_id", m.ID, "attempts", attempts, "error", err)
			}
			if err := repo.MarkFailed(ctx, m.ID, err.Error()); err != nil {
				return dispatched, fmt.Errorf("outbox flush: %w", err)
			}
			continue
		}

		if err := repo.MarkDispatched(ctx, m.ID); err != nil {
			return dispatched, fmt.Errorf("outbox flush: %w", err)
		}
		dispatched++
	}
	return dispatched, nil
}

func (r *Relay) publish(ctx context.Context, topic, payload string) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		if err := r.publisher.Publish(ctx, topic, payload); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
