package middleware

import (
	"log/slog"
	"net/http"

	"go.hackfix.me/tilde/web/server/gate"
)

// Authorize checks every request with g before passing it on. Denied requests
// are answered with 403 Forbidden, and the denial reason is only logged.
func Authorize(g gate.Gate, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(r)
			if !d.Allowed {
				logger.Warn("request denied",
					"request_id", RequestID(r.Context()),
					"method", r.Method,
					"url", r.URL.String(),
					"remote_addr", r.RemoteAddr,
					"reason", d.Reason,
				)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
