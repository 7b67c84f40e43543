package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// RedisProvider publishes detections to a Redis Stream with approximate
// MAXLEN trimming to bound growth.
type RedisProvider struct {
	client     *redis.Client
	streamName string
	instanceID string
	maxLen     int64

	published atomic.Int64
	failures  atomic.Int64
	isRunning atomic.Bool
}

// RedisProviderConfig configures the Redis provider
type RedisProviderConfig struct {
	Host       string
	Port       int
	Password   string
	DB         int
	StreamName string
	InstanceID string
	MaxLen     int64 // Maximum stream length (0 = default)
}

// NewRedisProvider connects to Redis and verifies the connection
func NewRedisProvider(cfg RedisProviderConfig) (*RedisProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "trackspec:detections"
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 10000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rp := &RedisProvider{
		client:     client,
		streamName: cfg.StreamName,
		instanceID: cfg.InstanceID,
		maxLen:     cfg.MaxLen,
	}
	rp.isRunning.Store(true)

	logger.Info("Redis relay provider initialized (stream: %s, addr: %s:%d)",
		cfg.StreamName, cfg.Host, cfg.Port)
	return rp, nil
}

// Publish adds the detection to the Redis Stream
func (rp *RedisProvider) Publish(ctx context.Context, event *Event) error {
	if !rp.isRunning.Load() {
		return ErrProviderClosed
	}
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		rp.failures.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: rp.streamName,
		MaxLen: rp.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":       data,
			"id":          event.ID,
			"device_id":   event.DeviceID,
			"subject":     event.Subject,
			"instance_id": event.InstanceID,
		},
	}

	if _, err := rp.client.XAdd(ctx, args).Result(); err != nil {
		rp.failures.Add(1)
		return fmt.Errorf("failed to add event to stream: %w", err)
	}

	rp.published.Add(1)
	return nil
}

// Stats returns provider statistics
func (rp *RedisProvider) Stats(ctx context.Context) (*ProviderStats, error) {
	stats := &ProviderStats{
		ProviderType:    "redis",
		EventsPublished: rp.published.Load(),
		PublishFailures: rp.failures.Load(),
		ProviderSpecific: map[string]interface{}{
			"stream_name": rp.streamName,
			"max_len":     rp.maxLen,
		},
	}

	length, err := rp.client.XLen(ctx, rp.streamName).Result()
	if err != nil {
		logger.Warn("Failed to get stream length: %v", err)
	} else {
		stats.ProviderSpecific["length"] = length
	}

	return stats, nil
}

// Close closes the Redis client
func (rp *RedisProvider) Close() error {
	if !rp.isRunning.Load() {
		return nil
	}
	rp.isRunning.Store(false)
	err := rp.client.Close()
	logger.Info("Redis relay provider closed")
	return err
}
