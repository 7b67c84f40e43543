package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements the Provider interface using Prometheus
type PrometheusProvider struct {
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	requestsInFlight    prometheus.Gauge
	activeSessions      prometheus.Gauge
	framesReceived      *prometheus.CounterVec
	framesDropped       prometheus.Counter
	detectionsPersisted *prometheus.CounterVec
	fanOutDeliveries    prometheus.Counter
}

// NewPrometheusProvider creates a new Prometheus metrics provider.
// namespace prefixes every metric name; empty means no prefix.
func NewPrometheusProvider(namespace string) *PrometheusProvider {
	return &PrometheusProvider{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_sessions_active",
				Help:      "Current number of live upstream subscription sessions",
			},
		),
		framesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_frames_received_total",
				Help:      "Total number of upstream protocol frames received",
			},
			[]string{"type"},
		),
		framesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_frames_dropped_total",
				Help:      "Total number of malformed upstream frames dropped",
			},
		),
		detectionsPersisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_persisted_total",
				Help:      "Total number of detection persistence calls",
			},
			[]string{"status"},
		),
		fanOutDeliveries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fanout_deliveries_total",
				Help:      "Total number of events delivered to local observers",
			},
		),
	}
}

// ResponseWriter wraps http.ResponseWriter to capture status code
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordHTTPRequest implements Provider interface
func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

// IncRequestsInFlight implements Provider interface
func (p *PrometheusProvider) IncRequestsInFlight() {
	p.requestsInFlight.Inc()
}

// DecRequestsInFlight implements Provider interface
func (p *PrometheusProvider) DecRequestsInFlight() {
	p.requestsInFlight.Dec()
}

// IncActiveSessions implements Provider interface
func (p *PrometheusProvider) IncActiveSessions() {
	p.activeSessions.Inc()
}

// DecActiveSessions implements Provider interface
func (p *PrometheusProvider) DecActiveSessions() {
	p.activeSessions.Dec()
}

// RecordFrameReceived implements Provider interface
func (p *PrometheusProvider) RecordFrameReceived(frameType string) {
	p.framesReceived.WithLabelValues(frameType).Inc()
}

// RecordFrameDropped implements Provider interface
func (p *PrometheusProvider) RecordFrameDropped() {
	p.framesDropped.Inc()
}

// RecordDetectionPersisted implements Provider interface
func (p *PrometheusProvider) RecordDetectionPersisted(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.detectionsPersisted.WithLabelValues(status).Inc()
}

// RecordFanOut implements Provider interface
func (p *PrometheusProvider) RecordFanOut(observers int) {
	p.fanOutDeliveries.Add(float64(observers))
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that collects request metrics
func (p *PrometheusProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		p.IncRequestsInFlight()
		defer p.DecRequestsInFlight()

		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		p.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), time.Since(start))
	})
}
