package relay

import (
	"fmt"
	"os"

	"github.com/bitechdev/TrackSpec/pkg/config"
)

// NewProviderFromConfig creates a provider based on configuration
func NewProviderFromConfig(cfg config.RelayConfig) (Provider, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemoryProvider(10000), nil

	case "nats":
		return NewNATSProvider(NATSProviderConfig{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			InstanceID: getInstanceID(cfg.InstanceID),
			MaxAge:     cfg.NATS.MaxAge,
			Storage:    cfg.NATS.Storage, // "file" or "memory"
		})

	case "redis":
		return NewRedisProvider(RedisProviderConfig{
			Host:       cfg.Redis.Host,
			Port:       cfg.Redis.Port,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			StreamName: cfg.Redis.StreamName,
			InstanceID: getInstanceID(cfg.InstanceID),
			MaxLen:     cfg.Redis.MaxLen,
		})

	default:
		return nil, fmt.Errorf("unknown relay provider: %s", cfg.Provider)
	}
}

// NewRelayFromConfig creates a full relay from configuration.
// Returns (nil, nil) when the relay is disabled.
func NewRelayFromConfig(cfg config.RelayConfig) (*Relay, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := NewProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return NewRelay(provider, getInstanceID(cfg.InstanceID))
}

// getInstanceID returns the instance ID, defaulting to hostname if not specified
func getInstanceID(configID string) string {
	if configID != "" {
		return configID
	}

	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}

	return "trackspec-instance"
}
