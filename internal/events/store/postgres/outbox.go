package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"umoja/internal/events"
	"umoja/pkg/domain"
	txcontext "umoja/pkg/platform/tx"
)

// Outbox implements events.Outbox on the event_outbox table. Append joins the
// transaction in ctx so events commit with the aggregate write.
type Outbox struct {
	db *sql.DB
}

func New(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Append(ctx context.Context, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	exec := txcontext.ExecutorFrom(ctx, o.db)
	const query = `
		INSERT INTO event_outbox (id, event_type, aggregate_id, actor, request_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	for _, evt := range evts {
		_, err := exec.ExecContext(ctx, query,
			uuid.UUID(evt.ID),
			string(evt.Type),
			evt.AggregateID,
			string(evt.Actor),
			evt.RequestID,
			evt.OccurredAt,
			[]byte(evt.Payload),
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

// ListUnpublished returns the oldest unpublished events. SKIP LOCKED lets
// several relays drain the table without publishing the same row twice.
func (o *Outbox) ListUnpublished(ctx context.Context, limit int) ([]events.Event, error) {
	const query = `
		SELECT id, event_type, aggregate_id, actor, request_id, occurred_at, payload
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.ExecutorFrom(ctx, o.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			id      uuid.UUID
			evtType string
			actor   string
			payload []byte
			evt     events.Event
		)
		if err := rows.Scan(&id, &evtType, &evt.AggregateID, &actor, &evt.RequestID, &evt.OccurredAt, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		evt.ID = domain.EventID(id)
		evt.Type = events.Type(evtType)
		evt.Actor = domain.UserID(actor)
		evt.Payload = payload
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (o *Outbox) MarkPublished(ctx context.Context, ids []domain.EventID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	const query = `UPDATE event_outbox SET published_at = $2 WHERE id = ANY($1::uuid[]) AND published_at IS NULL`
	if _, err := txcontext.ExecutorFrom(ctx, o.db).ExecContext(ctx, query, pq.Array(raw), at); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
