// Package requestcontext carries the request ID and the request's notion of
// "now" through context so services and stores never import net/http.
//
// HTTP middleware sets both. The expiration worker and creditctl pin a time
// for a whole run with WithTime so every allocation in a batch is judged
// against the same instant.
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
)

func RequestID(ctx context.Context) string {
	reqID, _ := ctx.Value(requestIDKey{}).(string)
	return reqID
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the pinned time, or the wall clock when nothing was pinned.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
