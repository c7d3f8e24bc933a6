// Package middleware provides the HTTP middleware stack: panic recovery,
// request logging, CORS, security headers, API-key auth, per-client rate
// limiting, and request timeouts.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Recovery converts handler panics into a 500 response. The stack goes to
// the log, never to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", maskIP(r.RemoteAddr)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in handler")

				writeErrorResponse(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
