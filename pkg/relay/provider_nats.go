package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// NATSProvider publishes detections to a NATS JetStream stream.
// Subject format: detections.{device_id}, so downstream consumers can
// subscribe per device or use detections.> for everything.
type NATSProvider struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	stream     jetstream.Stream
	streamName string
	instanceID string
	maxAge     time.Duration

	published atomic.Int64
	failures  atomic.Int64
	isRunning atomic.Bool
}

// NATSProviderConfig configures the NATS provider
type NATSProviderConfig struct {
	URL        string
	StreamName string
	InstanceID string
	MaxAge     time.Duration // How long to keep detections
	Storage    string        // "file" or "memory"
}

// NewNATSProvider connects to NATS and ensures the detections stream exists
func NewNATSProvider(cfg NATSProviderConfig) (*NATSProvider, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "TRACKSPEC_DETECTIONS"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Storage == "" {
		cfg.Storage = "file"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("trackspec-relay-"+cfg.InstanceID),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	np := &NATSProvider{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		instanceID: cfg.InstanceID,
		maxAge:     cfg.MaxAge,
	}
	np.isRunning.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	storage := jetstream.FileStorage
	if cfg.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}

	if err := np.ensureStream(ctx, storage); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("NATS relay provider initialized (stream: %s, url: %s)", cfg.StreamName, cfg.URL)
	return np, nil
}

// Publish sends the detection to the JetStream stream
func (np *NATSProvider) Publish(ctx context.Context, event *Event) error {
	if !np.isRunning.Load() {
		return ErrProviderClosed
	}
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		np.failures.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: event.Subject,
		Data:    data,
		Header: nats.Header{
			"Event-ID":    []string{event.ID},
			"Device-ID":   []string{event.DeviceID},
			"Instance-ID": []string{event.InstanceID},
		},
	}

	if _, err := np.js.PublishMsg(ctx, msg); err != nil {
		np.failures.Add(1)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	np.published.Add(1)
	return nil
}

// Stats returns provider statistics
func (np *NATSProvider) Stats(ctx context.Context) (*ProviderStats, error) {
	stats := &ProviderStats{
		ProviderType:    "nats",
		EventsPublished: np.published.Load(),
		PublishFailures: np.failures.Load(),
		ProviderSpecific: map[string]interface{}{
			"stream_name": np.streamName,
			"max_age":     np.maxAge.String(),
		},
	}

	streamInfo, err := np.stream.Info(ctx)
	if err != nil {
		logger.Warn("Failed to get stream info: %v", err)
	} else {
		stats.ProviderSpecific["messages"] = streamInfo.State.Msgs
		stats.ProviderSpecific["bytes"] = streamInfo.State.Bytes
	}

	return stats, nil
}

// Close closes the NATS connection
func (np *NATSProvider) Close() error {
	if !np.isRunning.Load() {
		return nil
	}
	np.isRunning.Store(false)
	np.nc.Close()
	logger.Info("NATS relay provider closed")
	return nil
}

func (np *NATSProvider) ensureStream(ctx context.Context, storage jetstream.StorageType) error {
	streamConfig := jetstream.StreamConfig{
		Name:      np.streamName,
		Subjects:  []string{"detections.>"},
		MaxAge:    np.maxAge,
		Storage:   storage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}

	stream, err := np.js.CreateStream(ctx, streamConfig)
	if err != nil {
		stream, err = np.js.UpdateStream(ctx, streamConfig)
		if err != nil {
			return fmt.Errorf("failed to create/update stream: %w", err)
		}
	}

	np.stream = stream
	return nil
}
