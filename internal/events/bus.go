package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes one event. Handlers must be idempotent: the relay
// delivers at least once.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Publisher delivers events to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
}

// Bus is the in-process publisher. Subscribers register for event types, or
// for every type with no types given.
type Bus struct {
	mu     sync.RWMutex
	byType map[Type][]Handler
	all    []Handler
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{byType: make(map[Type][]Handler), logger: logger}
}

func (b *Bus) Subscribe(h Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.all = append(b.all, h)
		return
	}
	for _, t := range types {
		b.byType[t] = append(b.byType[t], h)
	}
}

// Publish delivers each event to its subscribers in order. Every subscriber
// sees the event even if an earlier one fails; failures are joined.
func (b *Bus) Publish(ctx context.Context, evts ...Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for _, evt := range evts {
		handlers := append(append([]Handler(nil), b.byType[evt.Type]...), b.all...)
		for _, h := range handlers {
			if err := h.Handle(ctx, evt); err != nil {
				b.logger.WarnContext(ctx, "event handler failed",
					"event_id", evt.ID.String(),
					"event_type", string(evt.Type),
					"error", err,
				)
				errs = append(errs, fmt.Errorf("%s %s: %w", evt.Type, evt.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// MultiPublisher fans out to several publishers.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
