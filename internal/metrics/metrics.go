// Package metrics provides Prometheus metrics for the chat backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backend. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// gRPC request metrics
	GrpcRequestsTotal   *prometheus.CounterVec
	GrpcRequestDuration *prometheus.HistogramVec

	// Conversation metrics
	ActiveConversations       prometheus.Gauge
	EvictedConversationsTotal prometheus.Counter
	MessagesTotal             *prometheus.CounterVec

	// Streaming metrics
	ActiveStreams     *prometheus.GaugeVec
	StreamChunksTotal *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors and registers
// every metric on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttakmal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ttakmal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)

	m.GrpcRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttakmal_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ttakmal_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.ActiveConversations = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "ttakmal_active_conversations",
			Help: "Number of stored conversations",
		},
	)

	m.EvictedConversationsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "ttakmal_evicted_conversations_total",
			Help: "Total number of conversations removed by the TTL worker",
		},
	)

	m.MessagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttakmal_messages_total",
			Help: "Total number of user messages by outcome",
		},
		[]string{"outcome"},
	)

	m.ActiveStreams = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ttakmal_active_streams",
			Help: "Number of open streaming connections",
		},
		[]string{"transport"},
	)

	m.StreamChunksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttakmal_stream_chunks_total",
			Help: "Total number of stream chunks written",
		},
		[]string{"transport", "type"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordGrpcRequest records a gRPC request with its status.
func (m *Metrics) RecordGrpcRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordMessage counts a user message by outcome ("accepted", "rejected").
func (m *Metrics) RecordMessage(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// SetActiveConversations updates the stored conversation gauge.
func (m *Metrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}

// RecordEvictions counts conversations removed by the TTL worker.
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictedConversationsTotal.Add(float64(n))
}

// StreamOpened increments the open stream gauge and returns a func that
// decrements it.
func (m *Metrics) StreamOpened(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ActiveStreams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// RecordChunk counts one written stream chunk.
func (m *Metrics) RecordChunk(transport, chunkType string) {
	if m == nil {
		return
	}
	m.StreamChunksTotal.WithLabelValues(transport, chunkType).Inc()
}
