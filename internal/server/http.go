package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/audio-feature-streamer/internal/aggregator"
	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/config"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/stream"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

const serviceName = "audio-feature-streamer"

// Version is reported by /health and /
var Version = "1.0.0"

// Sources are the components whose state the API reports
type Sources struct {
	Streamer interface {
		Stats() stream.Stats
	}
	Publisher interface {
		GetStats() telemetry.Stats
	}
	Aggregator interface {
		GetStats() aggregator.Stats
	}
	Persister interface {
		GetStats() audio.PersisterStats
	}
	Clock interface {
		Synced() bool
		Reference() time.Time
		Server() string
	}
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	runID    string

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	sources Sources, gatherer prometheus.Gatherer, m *metrics.Metrics, runID string) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		gatherer:  gatherer,
		metrics:   m,
		runID:     runID,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamStats := h.sources.Streamer.Stats()
	pubStats := h.sources.Publisher.GetStats()
	synced := h.sources.Clock.Synced()

	status := "healthy"
	code := http.StatusOK
	switch {
	case !streamStats.Running:
		status = "stopped"
		code = http.StatusServiceUnavailable
	case !synced || (pubStats.EndpointEnabled && !pubStats.Connected):
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"run_id":    h.runID,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": Version,
		},
		"components": map[string]interface{}{
			"stream": map[string]interface{}{
				"running":         streamStats.Running,
				"current_segment": streamStats.CurrentSegment,
				"queue_depth":     streamStats.QueueDepth,
				"dropped_events":  streamStats.DroppedEvents,
			},
			"time_reference": map[string]interface{}{
				"synced":         synced,
				"server":         h.sources.Clock.Server(),
				"reference_time": h.sources.Clock.Reference(),
			},
			"telemetry": map[string]interface{}{
				"endpoint_enabled": pubStats.EndpointEnabled,
				"connected":        pubStats.Connected,
			},
		},
	}

	writeJSON(w, code, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":     time.Since(h.startTime).String(),
		"timestamp":  time.Now().UTC(),
		"stream":     h.sources.Streamer.Stats(),
		"telemetry":  h.sources.Publisher.GetStats(),
		"aggregator": h.sources.Aggregator.GetStats(),
		"audio":      h.sources.Persister.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /stats":   "Stream, telemetry, aggregation and audio statistics",
			"GET /config":  "Sanitized configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
