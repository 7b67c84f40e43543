package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// ErrProviderClosed is returned when publishing to a closed provider
var ErrProviderClosed = errors.New("relay provider is closed")

// Relay re-publishes persisted detections to an external broker so other
// systems can consume the stream without holding their own upstream session.
type Relay struct {
	provider   Provider
	instanceID string

	statsPublished atomic.Int64
	statsFailed    atomic.Int64
}

// RelayStats contains relay statistics
type RelayStats struct {
	InstanceID      string         `json:"instance_id"`
	TotalPublished  int64          `json:"total_published"`
	TotalFailed     int64          `json:"total_failed"`
	ProviderStats   *ProviderStats `json:"provider_stats,omitempty"`
}

// NewRelay creates a relay on top of the given provider
func NewRelay(provider Provider, instanceID string) (*Relay, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if instanceID == "" {
		return nil, fmt.Errorf("instance ID is required")
	}
	return &Relay{provider: provider, instanceID: instanceID}, nil
}

// PublishDetection wraps the activity and hands it to the provider
func (r *Relay) PublishDetection(ctx context.Context, deviceID string, activity *detection.Activity) error {
	event := NewEvent(deviceID, activity, r.instanceID)

	if err := r.provider.Publish(ctx, event); err != nil {
		r.statsFailed.Add(1)
		return fmt.Errorf("failed to relay detection for device %s: %w", deviceID, err)
	}

	r.statsPublished.Add(1)
	return nil
}

// Stats returns relay statistics including provider stats
func (r *Relay) Stats(ctx context.Context) (*RelayStats, error) {
	providerStats, err := r.provider.Stats(ctx)
	if err != nil {
		logger.Warn("Failed to get relay provider stats: %v", err)
	}

	return &RelayStats{
		InstanceID:     r.instanceID,
		TotalPublished: r.statsPublished.Load(),
		TotalFailed:    r.statsFailed.Load(),
		ProviderStats:  providerStats,
	}, nil
}

// InstanceID returns the relay's instance ID
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Close closes the underlying provider
func (r *Relay) Close() error {
	return r.provider.Close()
}
