package memory

import (
	"context"
	"sync"
	"time"

	"umoja/internal/events"
	"umoja/pkg/domain"
)

type entry struct {
	evt         events.Event
	publishedAt *time.Time
}

// Outbox is an in-memory events.Outbox preserving append order.
type Outbox struct {
	mu      sync.Mutex
	entries []*entry
	byID    map[domain.EventID]*entry
}

func New() *Outbox {
	return &Outbox{byID: make(map[domain.EventID]*entry)}
}

// Append is idempotent by event id.
func (o *Outbox) Append(_ context.Context, evts ...events.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, evt := range evts {
		if _, dup := o.byID[evt.ID]; dup {
			continue
		}
		e := &entry{evt: evt}
		o.entries = append(o.entries, e)
		o.byID[evt.ID] = e
	}
	return nil
}

func (o *Outbox) ListUnpublished(_ context.Context, limit int) ([]events.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []events.Event
	for _, e := range o.entries {
		if e.publishedAt != nil {
			continue
		}
		out = append(out, e.evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, ids []domain.EventID, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		if e, ok := o.byID[id]; ok && e.publishedAt == nil {
			t := at
			e.publishedAt = &t
		}
	}
	return nil
}

// All returns every appended event in order. Used by tests and the replay endpoint.
func (o *Outbox) All() []events.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]events.Event, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.evt
	}
	return out
}
