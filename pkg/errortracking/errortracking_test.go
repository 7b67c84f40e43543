package errortracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitechdev/TrackSpec/pkg/config"
)

func TestNoOpProvider(t *testing.T) {
	provider := NewNoOpProvider()

	// All methods must be callable without panicking
	provider.CaptureError(context.Background(), errors.New("test error"), SeverityError, nil)
	provider.CaptureMessage(context.Background(), "test message", SeverityWarning, nil)
	provider.CapturePanic(context.Background(), "panic!", []byte("stack trace"), nil)

	assert.True(t, provider.Flush(5))
	assert.NoError(t, provider.Close())
}

func TestSeverityLevels(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		expected string
	}{
		{"Error", SeverityError, "error"},
		{"Warning", SeverityWarning, "warning"},
		{"Info", SeverityInfo, "info"},
		{"Debug", SeverityDebug, "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.severity))
		})
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Run("disabled returns noop", func(t *testing.T) {
		p, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: false})
		assert.NoError(t, err)
		assert.IsType(t, &NoOpProvider{}, p)
	})

	t.Run("sentry without DSN fails", func(t *testing.T) {
		_, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: "sentry"})
		assert.Error(t, err)
	})

	t.Run("unknown provider fails", func(t *testing.T) {
		_, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: "bogus"})
		assert.Error(t, err)
	})

	t.Run("empty provider returns noop", func(t *testing.T) {
		p, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: ""})
		assert.NoError(t, err)
		assert.IsType(t, &NoOpProvider{}, p)
	})
}
