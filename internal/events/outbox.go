package events

import (
	"context"
	"time"

	"umoja/pkg/domain"
)

// Appender is the write side of the outbox that services depend on. Append
// must join the transaction carried by ctx, if any.
type Appender interface {
	Append(ctx context.Context, evts ...Event) error
}

// Outbox is the full outbox store used by the relay.
type Outbox interface {
	Appender
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []domain.EventID, at time.Time) error
}
