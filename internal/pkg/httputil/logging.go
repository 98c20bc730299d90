package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
)

// healthPaths are polled by the orchestrator every few seconds and logged at debug.
var healthPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// RequestLoggerMiddleware stores a request-scoped logger carrying the request id
// in the context and logs every request when it completes.
func RequestLoggerMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, logger := ctxlog.With(ctxlog.WithLogger(r.Context(), base), "request_id", middleware.GetReqID(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			level := slog.LevelInfo
			if healthPaths[r.URL.Path] && ww.Status() < http.StatusInternalServerError {
				level = slog.LevelDebug
			}
			logger.Log(ctx, level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
