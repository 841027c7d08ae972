package middleware

import (
	"log/slog"
	"net/http"

	"github.com/k-yomo/kagu-miru/pkg/logger"
)

// HeaderSessionID lets clients tag requests with their search session id.
const HeaderSessionID = "X-Session-ID"

// RequestLogger stores a request-scoped logger carrying correlation_id,
// session_id, trace_id and span_id in the context. Downstream handlers get
// it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing, which set the correlation id
// and span it reads.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(HeaderSessionID); id != "" {
				ctx = logger.WithSessionID(ctx, id)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
