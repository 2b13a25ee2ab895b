// Package health serves /healthz and /metrics for long-running commands.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
)

// Pinger checks backend connectivity. *rundown.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP health check and metrics endpoints.
type Server struct {
	pinger   Pinger
	metrics  *metrics.Collector
	degraded func() bool
	logger   *zap.Logger
	server   *http.Server
	addr     string
}

// NewServer creates a health server. degraded, when set, reports whether
// realtime updates gave up; a degraded process is still healthy.
func NewServer(pinger Pinger, m *metrics.Collector, degraded func() bool, logger *zap.Logger) *Server {
	return &Server{
		pinger:   pinger,
		metrics:  m,
		degraded: degraded,
		logger:   logging.Component(logger, "health"),
	}
}

// Router returns the HTTP routes.
func (h *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthCheckHandler)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return r
}

// Start listens on addr and serves in the background.
func (h *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.addr = ln.Addr().String()

	h.server = &http.Server{
		Handler:      h.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server stopped", zap.Error(err))
		}
	}()

	h.logger.Info("health server listening", zap.String("addr", h.addr))
	return nil
}

// Addr returns the bound address once started.
func (h *Server) Addr() string {
	return h.addr
}

// Shutdown gracefully shuts down the server.
func (h *Server) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 OK if Redis is accessible, 503 otherwise.
func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := Response{Status: "healthy", Realtime: "live"}
	if h.degraded != nil && h.degraded() {
		response.Realtime = "degraded"
	}

	status := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		response.Redis = "connected"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// Response is the JSON response structure for health checks.
type Response struct {
	Status   string `json:"status"`
	Redis    string `json:"redis,omitempty"`
	Realtime string `json:"realtime,omitempty"`
	Error    string `json:"error,omitempty"`
}
