package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"invarity/internal/ratelimit"
)

// RateLimit throttles requests per agent using l. Agent identity is read
// from the X-Agent-ID header set by the caller; requests without one are
// limited by remote address instead so an unauthenticated caller can't
// bypass the budget entirely.
func RateLimit(l *ratelimit.Limiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if l == nil {
				next.ServeHTTP(w, req)
				return
			}

			key := req.Header.Get("X-Agent-ID")
			if key == "" {
				key = req.RemoteAddr
			}

			result := l.Allow(req.Context(), key)
			for k, v := range result.FormatHeaders() {
				w.Header().Set(k, v)
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(result.ResetAt.Unix()), 10))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error:     "rate limit exceeded",
					Code:      "RATE_LIMITED",
					RequestID: middleware.GetReqID(req.Context()),
				})
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
