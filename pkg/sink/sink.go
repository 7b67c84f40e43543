package sink

import (
	"context"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/relay"
)

// DetectionWriter persists detections. Implemented by store.Store.
type DetectionWriter interface {
	SaveDetection(ctx context.Context, activity *detection.Activity) error
}

// Broadcaster fans messages out to local observers. Implemented by hub.Hub.
type Broadcaster interface {
	BroadcastDetection(deviceID string, activity *detection.Activity) int
	BroadcastStatus(deviceID, status, reason string) int
}

// Sink receives everything upstream sessions produce: detections are
// persisted first, then fanned out to observers, then optionally relayed
// to an external broker. A persistence failure is logged but never blocks
// delivery to observers.
type Sink struct {
	writer      DetectionWriter
	broadcaster Broadcaster
	relay       *relay.Relay // nil when relaying is disabled

	opTimeout time.Duration
}

// NewSink creates a sink. relay may be nil.
func NewSink(writer DetectionWriter, broadcaster Broadcaster, r *relay.Relay) *Sink {
	return &Sink{
		writer:      writer,
		broadcaster: broadcaster,
		relay:       r,
		opTimeout:   10 * time.Second,
	}
}

// SetBroadcaster wires the observer hub in after construction. The hub
// needs the registry (which needs this sink) to exist first, so wiring
// happens in two steps at startup, before any session runs.
func (s *Sink) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// PublishDetection persists the detection, then delivers it to observers.
// Called synchronously from the session read loop, so per-device ordering
// is the caller's loop order.
func (s *Sink) PublishDetection(deviceID string, activity *detection.Activity) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.writer.SaveDetection(ctx, activity); err != nil {
		logger.Error("Failed to persist detection for device %s: %v", deviceID, err)
		metrics.GetProvider().RecordDetectionPersisted(err)
	} else {
		metrics.GetProvider().RecordDetectionPersisted(nil)
	}

	if s.broadcaster != nil {
		delivered := s.broadcaster.BroadcastDetection(deviceID, activity)
		logger.Debug("Detection for device %s delivered to %d observer(s)", deviceID, delivered)
	}

	if s.relay != nil {
		if err := s.relay.PublishDetection(ctx, deviceID, activity); err != nil {
			logger.Error("Failed to relay detection for device %s: %v", deviceID, err)
		}
	}
}

// PublishStatus forwards an upstream session state change to observers
func (s *Sink) PublishStatus(deviceID string, status, reason string) {
	if s.broadcaster == nil {
		return
	}
	delivered := s.broadcaster.BroadcastStatus(deviceID, status, reason)
	logger.Debug("Status %q for device %s delivered to %d observer(s)", status, deviceID, delivered)
}
