package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const correlationIDKey contextKey = "correlation_id"

// DefaultHeaderName is the header used when none is configured
const DefaultHeaderName = "X-Correlation-ID"

// IDAccessor returns the correlation id of the call carried by ctx
type IDAccessor func(ctx context.Context) (string, bool)

// WithID returns a copy of ctx carrying the correlation id
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// IDFromContext returns the correlation id stored by WithID
func IDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// Middleware establishes the correlation id of an inbound request: the value of the
// header when the caller sent one, a new uuid otherwise. The id is stored in the request
// context for outbound pipelines and echoed on the response.
func Middleware(headerName string, next http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultHeaderName
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerName)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerName, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
