// Package api provides the HTTP API for bookings, redemptions, payments and
// provider webhooks.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	health  *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration. The write
// timeout leaves room for a provider call inside a booking.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ServerDeps are the collaborators mounted on the server.
type ServerDeps struct {
	Handler *Handler
	Health  *observability.HealthRegistry
	Metrics observability.Metrics
	// MetricsHandler is served on GET /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	health := deps.Health
	if health == nil {
		health = observability.NewHealthRegistry()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		handler: deps.Handler,
		health:  health,
	}

	// Register routes
	s.registerRoutes(deps.MetricsHandler)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           instrument(s.mux, logger, metrics),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes(metricsHandler http.Handler) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metricsHandler != nil {
		s.mux.Handle("GET /metrics", metricsHandler)
	}

	h := s.handler
	s.mux.HandleFunc("POST /api/v1/bookings", h.CreateBooking)

	s.mux.HandleFunc("GET /api/v1/subscriptions", h.ListSubscriptions)
	s.mux.HandleFunc("GET /api/v1/subscriptions/stats", h.SubscriptionStats)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{id}/cancel", h.CancelSubscription)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{id}/payments", h.RetryPayment)

	s.mux.HandleFunc("POST /api/v1/vouchers/{code}/redeem", h.RedeemVoucher)

	s.mux.HandleFunc("GET /api/v1/payments", h.ListPayments)
	s.mux.HandleFunc("GET /api/v1/payments/{id}", h.GetPayment)
	s.mux.HandleFunc("POST /api/v1/payments/{id}/reconcile", h.ReconcilePayment)
	s.mux.HandleFunc("POST /api/v1/payments/{id}/refunds", h.CreateRefund)
	s.mux.HandleFunc("GET /api/v1/payments/{id}/refunds", h.ListRefunds)

	s.mux.HandleFunc("POST /api/v1/webhooks/payments", h.PaymentWebhook)
}

// handleHealth reports the registry's checks; unhealthy answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := s.health.Check(ctx)
	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeAPIError(w http.ResponseWriter, err *APIError) {
	writeJSON(w, err.Status, err.body())
}
