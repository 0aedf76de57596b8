// Package requestcontext carries request-scoped values (the acting principal,
// the request id and the request clock) through context.Context so services
// read them without depending on net/http.
//
// Middleware writes them; background workers set only the clock:
//
//	ctx = requestcontext.WithTime(ctx, now)
//	actor := requestcontext.ActorID(ctx)
package requestcontext

import (
	"context"
	"time"

	"umoja/pkg/domain"
)

type (
	actorKey   struct{}
	requestKey struct{}
	clockKey   struct{}
)

// ActorID is the authenticated principal, or the empty id for anonymous calls.
func ActorID(ctx context.Context) domain.UserID {
	actor, _ := ctx.Value(actorKey{}).(domain.UserID)
	return actor
}

func WithActorID(ctx context.Context, actor domain.UserID) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestID)
}

// Now is the time the request was received. Outside a request it is the
// wall clock, unless a worker pinned one with WithTime.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(clockKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock for everything downstream of ctx. Voting deadlines
// and grace periods are evaluated against it.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, clockKey{}, t)
}
