package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Manager handles configuration loading from multiple sources
type Manager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager with defaults
func NewManager() *Manager {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/trackspec")
	v.AddConfigPath("$HOME/.trackspec")

	v.SetEnvPrefix("TRACKSPEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Manager{v: v}
}

// NewManagerWithOptions creates a new configuration manager with custom options
func NewManagerWithOptions(opts ...Option) *Manager {
	m := NewManager()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithConfigFile sets a specific config file path
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.v.SetConfigFile(path)
	}
}

// WithConfigPath adds a path to search for config files
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		m.v.AddConfigPath(path)
	}
}

// WithEnvPrefix sets the environment variable prefix
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.v.SetEnvPrefix(prefix)
	}
}

// Load attempts to load configuration from file and environment
func (m *Manager) Load() error {
	// Config file is optional; defaults and env vars cover everything
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns a configuration value by key
func (m *Manager) Get(key string) interface{} {
	return m.v.Get(key)
}

// GetString returns a string configuration value
func (m *Manager) GetString(key string) string {
	return m.v.GetString(key)
}

// GetBool returns a bool configuration value
func (m *Manager) GetBool(key string) bool {
	return m.v.GetBool(key)
}

// Set sets a configuration value
func (m *Manager) Set(key string, value interface{}) {
	m.v.Set(key, value)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":5001")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logger defaults
	v.SetDefault("logger.dev", false)
	v.SetDefault("logger.path", "")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	// Upstream defaults
	v.SetDefault("upstream.ws_endpoint", "")
	v.SetDefault("upstream.http_endpoint", "")
	v.SetDefault("upstream.token_id", "")
	v.SetDefault("upstream.token_value", "")
	v.SetDefault("upstream.insecure_skip_verify", true)
	v.SetDefault("upstream.handshake_timeout", "15s")
	v.SetDefault("upstream.read_timeout", "60s")
	v.SetDefault("upstream.write_timeout", "10s")

	// Database defaults
	v.SetDefault("database.path", "detections.db")

	// Relay defaults
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.provider", "memory")
	v.SetDefault("relay.instance_id", "")
	v.SetDefault("relay.nats.url", "nats://localhost:4222")
	v.SetDefault("relay.nats.stream_name", "TRACKSPEC_DETECTIONS")
	v.SetDefault("relay.nats.max_age", "168h")
	v.SetDefault("relay.nats.storage", "file")
	v.SetDefault("relay.redis.host", "localhost")
	v.SetDefault("relay.redis.port", 6379)
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)
	v.SetDefault("relay.redis.stream_name", "trackspec:detections")
	v.SetDefault("relay.redis.max_len", 100000)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "trackspec")

	// Error tracking defaults
	v.SetDefault("error_tracking.enabled", false)
	v.SetDefault("error_tracking.provider", "noop")
	v.SetDefault("error_tracking.dsn", "")
	v.SetDefault("error_tracking.environment", "development")
	v.SetDefault("error_tracking.release", "")
	v.SetDefault("error_tracking.debug", false)
	v.SetDefault("error_tracking.sample_rate", 1.0)

	// Middleware defaults
	v.SetDefault("middleware.rate_limit_rps", 100)
	v.SetDefault("middleware.rate_limit_burst", 200)
	v.SetDefault("middleware.cors_origins", []string{"*"})
}
