package outbox

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/server/models"
)

// Claim selects pending rows for one relay pass.
type Claim struct {
	CreatedBefore time.Time
	Now           time.Time
	LeaseUntil    time.Time
	MaxAttempts   int
	Limit         int
}

type Repository interface {
	Enqueue(ctx context.Context, topic, payload string) (int64, error)
	ClaimPending(ctx context.Context, c Claim) ([]*models.OutboxMessage, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}
