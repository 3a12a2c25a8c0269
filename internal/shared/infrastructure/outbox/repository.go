package outbox

import (
	"context"
	"time"
)

// Repository persists outbox messages. Save joins the transaction carried
// in ctx so events commit atomically with the state change that raised them.
type Repository interface {
	Save(ctx context.Context, msgs ...*Message) error
	// FetchDue returns unpublished, non-dead messages whose retry time has come.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id int64, reason string, at time.Time) error
	// DeleteOld removes published messages created before the cutoff.
	DeleteOld(ctx context.Context, before time.Time) (int64, error)
}
