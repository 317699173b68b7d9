// Package requestid assigns each request a correlation identifier and echoes
// it back to the caller.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"custodia/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware attaches a request ID to the context, honoring an inbound
// X-Request-ID header when present so correlation survives service hops.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerName)
		if id == "" {
			id = uuid.New().String()
		}
		ctx := requestcontext.WithRequestID(r.Context(), id)
		w.Header().Set(headerName, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
