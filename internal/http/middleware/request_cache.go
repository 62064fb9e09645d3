package middleware

import (
	"net/http"

	"github.com/wolfman30/consult-escrow/internal/cache"
	"github.com/wolfman30/consult-escrow/internal/reqctx"
)

// RequestCache attaches c to every request context so handlers can read
// through it without holding a reference themselves.
func RequestCache(c cache.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(reqctx.WithCache(r.Context(), c)))
		})
	}
}
