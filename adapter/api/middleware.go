package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// Request headers read by the API.
const (
	HeaderAccountID     = "X-Account-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument opens a request scope, stamps request and correlation IDs,
// and records request count and latency per matched route.
func instrument(next http.Handler, logger *slog.Logger, metrics observability.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get(HeaderCorrelationID))
		if account := r.Header.Get(HeaderAccountID); account != "" {
			ctx = observability.WithAccountID(ctx, account)
		}
		r = r.WithContext(ctx)
		w.Header().Set(HeaderRequestID, observability.RequestIDFromContext(ctx))
		w.Header().Set(HeaderCorrelationID, observability.CorrelationIDFromContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// ServeMux records the matched pattern on the request it was given.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.Counter(observability.MetricHTTPRequests, 1,
			observability.T("route", route),
			observability.T("status", strconv.Itoa(rec.status)),
		)
		metrics.Timing(observability.MetricHTTPDuration, elapsed, observability.T("route", route))

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
