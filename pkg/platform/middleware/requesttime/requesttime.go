// Package requesttime provides middleware for request-scoped time.
// Every ledger write within one HTTP request uses the same "now", so expiry
// dates, planner cut-offs and transaction timestamps agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"credits/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
