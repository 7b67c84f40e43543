package relay

import (
	"context"
)

// Provider is the storage/transport backend for relayed detections.
// Implementations: MemoryProvider, NATSProvider (JetStream), RedisProvider (Streams).
type Provider interface {
	// Publish sends one detection event to the backend
	Publish(ctx context.Context, event *Event) error

	// Stats returns provider statistics
	Stats(ctx context.Context) (*ProviderStats, error)

	// Close closes the provider and releases resources
	Close() error
}

// ProviderStats contains statistics common to all providers
type ProviderStats struct {
	ProviderType     string                 `json:"provider_type"`
	EventsPublished  int64                  `json:"events_published"`
	PublishFailures  int64                  `json:"publish_failures"`
	ProviderSpecific map[string]interface{} `json:"provider_specific,omitempty"`
}
