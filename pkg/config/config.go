package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Middleware    MiddlewareConfig    `mapstructure:"middleware"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

// AuthConfig holds HTTP basic auth configuration for the API surface
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// UpstreamConfig holds configuration for the remote GraphQL service.
// WSEndpoint carries the graphql-transport-ws subscription endpoint,
// HTTPEndpoint the one-shot query/mutation endpoint. TokenID and
// TokenValue are the pre-provisioned credential pair sent both as
// headers and as the connection_init payload.
type UpstreamConfig struct {
	WSEndpoint   string `mapstructure:"ws_endpoint"`
	HTTPEndpoint string `mapstructure:"http_endpoint"`
	TokenID      string `mapstructure:"token_id"`
	TokenValue   string `mapstructure:"token_value"`

	// InsecureSkipVerify disables TLS certificate validation against the
	// upstream service. The remote deployment uses a certificate we cannot
	// validate, so this defaults to true. Flip it off once the upstream
	// presents a verifiable chain.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// ReadTimeout bounds reads during the protocol handshake. Streaming
	// reads are unbounded so quiet devices stay subscribed.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the detection store configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RelayConfig configures optional re-publication of detections to an
// external bus
type RelayConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Provider   string           `mapstructure:"provider"` // memory, nats, redis
	InstanceID string           `mapstructure:"instance_id"`
	NATS       RelayNATSConfig  `mapstructure:"nats"`
	Redis      RelayRedisConfig `mapstructure:"redis"`
}

// RelayNATSConfig contains NATS-specific relay configuration
type RelayNATSConfig struct {
	URL        string        `mapstructure:"url"`
	StreamName string        `mapstructure:"stream_name"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Storage    string        `mapstructure:"storage"` // file or memory
}

// RelayRedisConfig contains Redis-specific relay configuration
type RelayRedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	StreamName string `mapstructure:"stream_name"`
	MaxLen     int64  `mapstructure:"max_len"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"` // prometheus, noop
	Namespace string `mapstructure:"namespace"`
}

// ErrorTrackingConfig holds error tracking configuration
type ErrorTrackingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Provider    string  `mapstructure:"provider"` // sentry, noop
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	Release     string  `mapstructure:"release"`
	Debug       bool    `mapstructure:"debug"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MiddlewareConfig holds middleware configuration
type MiddlewareConfig struct {
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

// Validate checks that the configuration required at startup is present.
/// Missing upstream credentials or endpoints are fatal: every subscription
// depends on them and there is no way to recover at runtime.
func (c *Config) Validate() error {
	if c.Upstream.WSEndpoint == "" {
		return fmt.Errorf("upstream.ws_endpoint is required")
	}
	if c.Upstream.TokenID == "" || c.Upstream.TokenValue == "" {
		return fmt.Errorf("upstream.token_id and upstream.token_value are required")
	}
	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password are required when auth is enabled")
	}
	return nil
}
