// Package metrics provides Prometheus instrumentation for the report service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsTotal counts report computations by outcome: created, invalid,
	// rejected (engine error) or failed (storage error).
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethtax_reports_total",
		Help: "Total number of report computations",
	}, []string{"outcome"})

	// ProcessingLatency tracks the processor run time per report.
	ProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ethtax_processing_latency_seconds",
		Help:    "Transaction processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RealizedLots counts realized lots by holding period term.
	RealizedLots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethtax_realized_lots_total",
		Help: "Realized lots produced, by holding period",
	}, []string{"term"})

	// DisposalsProcessed counts non-zero disposals consumed by the processor.
	DisposalsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethtax_disposals_processed_total",
		Help: "Disposals consumed from the open lot pool",
	})

	// LotSplits counts partial lot consumptions.
	LotSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethtax_lot_splits_total",
		Help: "Acquired lots split by a partial disposal",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ethtax_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethtax_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ethtax_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Term labels for RealizedLots.
const (
	TermShort = "short"
	TermLong  = "long"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the matched chi route so report IDs do not become
// label values. Unrouted requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
