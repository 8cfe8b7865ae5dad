package middleware

import (
	"net/http"

	"membank-backend/infrastructure/cache"
)

// RequestCache seeds a fresh L0 cache into every request's context. The map
// lives exactly as long as the request and is never shared.
func RequestCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := cache.WithRequestCache(r.Context(), cache.NewRequestCache())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
