package metrics

import (
	"net/http"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordHTTPRequest records metrics for an HTTP request
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// IncRequestsInFlight increments the in-flight requests counter
	IncRequestsInFlight()

	// DecRequestsInFlight decrements the in-flight requests counter
	DecRequestsInFlight()

	// IncActiveSessions increments the live upstream session gauge
	IncActiveSessions()

	// DecActiveSessions decrements the live upstream session gauge
	DecActiveSessions()

	// RecordFrameReceived records one decoded upstream frame by type
	RecordFrameReceived(frameType string)

	// RecordFrameDropped records one malformed frame that was skipped
	RecordFrameDropped()

	// RecordDetectionPersisted records the outcome of one persistence call
	RecordDetectionPersisted(err error)

	// RecordFanOut records delivery of one event to n observers
	RecordFanOut(observers int)

	// Handler returns an HTTP handler exposing the metrics endpoint
	Handler() http.Handler

	// Middleware wraps an HTTP handler to collect request metrics
	Middleware(next http.Handler) http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) IncActiveSessions()                                                    {}
func (n *NoOpProvider) DecActiveSessions()                                                    {}
func (n *NoOpProvider) RecordFrameReceived(frameType string)                                  {}
func (n *NoOpProvider) RecordFrameDropped()                                                   {}
func (n *NoOpProvider) RecordDetectionPersisted(err error)                                    {}
func (n *NoOpProvider) RecordFanOut(observers int)                                            {}
func (n *NoOpProvider) Middleware(next http.Handler) http.Handler { return next }

func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte("Metrics provider not configured")); err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	})
}
