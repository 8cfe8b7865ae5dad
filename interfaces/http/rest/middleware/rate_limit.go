package middleware

import (
	"net"
	"net/http"

	"membank-backend/pkg/common"
	apperrors "membank-backend/pkg/errors"
	"membank-backend/pkg/ratelimit"
)

// RateLimit rejects callers that exhaust their token bucket. Buckets are
// keyed by client address.
func RateLimit(limiter *ratelimit.TokenBucketLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiter.Allow(host) {
				common.RespondError(w, apperrors.NewUnavailableError("rate limit").WithCode("RATE_LIMITED"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
