package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"

	"umoja/internal/events"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	EventType string
}

// MessageHandler processes one message. Returning an error asks the
// consumer to retry the message; after the retry budget it is skipped.
type MessageHandler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Client is the part of *kgo.Client the consumer uses.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

type Consumer struct {
	client     Client
	handler    MessageHandler
	logger     *slog.Logger
	maxRetries uint64
	retryWait  time.Duration
}

type ConsumerOption func(*Consumer)

func WithConsumerLogger(l *slog.Logger) ConsumerOption { return func(c *Consumer) { c.logger = l } }

// WithHandlerRetries bounds in-place retries of a failing message.
func WithHandlerRetries(n uint64, wait time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.maxRetries = n
		c.retryWait = wait
	}
}

func NewConsumer(client Client, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:     client,
		handler:    handler,
		logger:     slog.Default(),
		maxRetries: 5,
		retryWait:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is done or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}
		var records []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) { records = append(records, r) })
		if err := c.Process(ctx, records); err != nil {
			return nil
		}
	}
}

// Process hands records to the handler in order and commits them. It stops
// early only when ctx is cancelled, leaving the rest uncommitted.
func (c *Consumer) Process(ctx context.Context, records []*kgo.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		msg := toMessage(r)
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryWait), c.maxRetries), ctx)
		err := backoff.Retry(func() error { return c.handler.Handle(ctx, msg) }, policy)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "kafka message skipped after retries",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"event_type", msg.EventType,
				"error", err,
			)
		}
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		c.logger.WarnContext(ctx, "kafka commit failed", "records", len(records), "error", err)
	}
	return nil
}

func toMessage(r *kgo.Record) *Message {
	msg := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
	}
	for _, h := range r.Headers {
		if h.Key == headerEventType {
			msg.EventType = string(h.Value)
		}
	}
	return msg
}

// Router dispatches feed messages to event handlers by event type. Messages
// without a registered handler are committed and skipped.
type Router struct {
	handlers map[events.Type][]events.Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{handlers: make(map[events.Type][]events.Handler), logger: logger}
}

// Register subscribes h to the given event types.
func (r *Router) Register(h events.Handler, types ...events.Type) {
	for _, t := range types {
		r.handlers[t] = append(r.handlers[t], h)
	}
}

func (r *Router) Handle(ctx context.Context, msg *Message) error {
	handlers, ok := r.handlers[events.Type(msg.EventType)]
	if !ok {
		return nil
	}
	var evt events.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// malformed records must not block the partition
		r.logger.ErrorContext(ctx, "undecodable event on feed",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
