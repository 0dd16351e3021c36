package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/metrics"
)

// RequestLogger logs one line per request and records the HTTP metrics,
// labelled by chi route pattern to keep cardinality bounded.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			latency := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", r.RemoteAddr).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")

			code := strconv.Itoa(status)
			metrics.RequestCount.WithLabelValues(r.Method, path, code).Inc()
			metrics.RequestDuration.WithLabelValues(r.Method, path, code).Observe(latency.Seconds())
		})
	}
}
