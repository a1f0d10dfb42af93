// Package middleware holds HTTP middleware for the call engine's control
// surface. The engine is not multi-tenant (spec.md §1 Non-goals), so
// unlike the teacher this package carries no auth/JWT layer — only
// structured request logging.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

// RequestLogger logs each HTTP request with zerolog, tagged with the
// chi request ID so a request can be correlated across log lines.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("http")
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}
