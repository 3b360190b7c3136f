package middleware

import (
	"net/http"

	"github.com/schoolcore/fees-management/pkg/logger"

	"github.com/google/uuid"
)

// RequestID tags every request with a trace id, honoring one supplied by the
// caller. The id rides the request logger and is echoed in the response so a
// gateway callback can be correlated with the reconciliation it triggered.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "traceID", traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
