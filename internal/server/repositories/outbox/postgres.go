// Package outbox stores queue publications that must survive a failed or
// interrupted publish. Rows are written in the same transaction as the
// upload record and removed from the pending set once dispatched.
package outbox

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, topic, payload string) (int64, error) {
	query := `INSERT INTO outbox (topic, payload) VALUES ($1, $2) RETURNING id`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, topic, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// ClaimPending leases up to c.Limit undispatched rows created before
// c.CreatedBefore and returns them ordered by id. A leased row is invisible
// to other relays until c.LeaseUntil passes or it is marked, so publishing
// happens outside any transaction. Rows that already failed c.MaxAttempts
// times are left alone.
func (r *PostgresRepository) ClaimPending(ctx context.Context, c Claim) ([]*models.OutboxMessage, error) {
	query := `UPDATE outbox SET claimed_until = $4
		WHERE id IN (
			SELECT id FROM outbox
			WHERE dispatched_at IS NULL AND created_at < $1
				AND attempts < $2
				AND (claimed_until IS NULL OR claimed_until < $3)
			ORDER BY id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, payload, attempts, created_at
		`
	rows, err := r.db.QueryContext(ctx, query, c.CreatedBefore, c.MaxAttempts, c.Now, c.LeaseUntil, c.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b *models.OutboxMessage) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (r *PostgresRepository) MarkDispatched(ctx context.Context, id int64) error {
	query := `UPDATE outbox SET dispatched_at = now(), last_error = NULL, claimed_until = NULL WHERE id = $1 AND dispatched_at IS NULL`
	return r.execOne(ctx, "mark dispatched", query, id)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `UPDATE outbox SET attempts = attempts + 1, last_error = $2, claimed_until = NULL WHERE id = $1`
	return r.execOne(ctx, "mark failed", query, id, reason)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}
