package ehttpchain

import (
	"context"
	"net/http"

	"github.com/RassulYunussov/ehttpchain/internal/correlation"
)

// WithCorrelationID returns a copy of ctx whose outbound requests carry id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return correlation.WithID(ctx, id)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return correlation.IDFromContext(ctx)
}

// CorrelationMiddleware takes the correlation id of inbound requests from headerName,
// or generates one, and makes it available to the outbound pipelines of the handler.
func CorrelationMiddleware(headerName string, next http.Handler) http.Handler {
	return correlation.Middleware(headerName, next)
}
