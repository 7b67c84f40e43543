package relay

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/detection"
)

func TestNewEvent(t *testing.T) {
	activity := &detection.Activity{Direction: "IN", DeviceID: "d1"}
	event := NewEvent("d1", activity, "node-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "d1", event.DeviceID)
	assert.Equal(t, "detections.d1", event.Subject)
	assert.Equal(t, "node-1", event.InstanceID)
	assert.NoError(t, event.Validate())
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{"valid", NewEvent("d1", &detection.Activity{}, "n1"), false},
		{"missing device", &Event{ID: "x", Activity: &detection.Activity{}}, true},
		{"missing activity", &Event{ID: "x", DeviceID: "d1"}, true},
		{"missing id", &Event{DeviceID: "d1", Activity: &detection.Activity{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryProvider_PublishAndTrim(t *testing.T) {
	provider := NewMemoryProvider(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := NewEvent(fmt.Sprintf("d%d", i), &detection.Activity{}, "n1")
		require.NoError(t, provider.Publish(ctx, event))
	}

	events := provider.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "d2", events[0].DeviceID)
	assert.Equal(t, "d4", events[2].DeviceID)

	stats, err := provider.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.EventsPublished)
	assert.Equal(t, "memory", stats.ProviderType)
}

func TestMemoryProvider_EventsForDevice(t *testing.T) {
	provider := NewMemoryProvider(10)
	ctx := context.Background()

	require.NoError(t, provider.Publish(ctx, NewEvent("d1", &detection.Activity{Direction: "IN"}, "n1")))
	require.NoError(t, provider.Publish(ctx, NewEvent("d2", &detection.Activity{}, "n1")))
	require.NoError(t, provider.Publish(ctx, NewEvent("d1", &detection.Activity{Direction: "OUT"}, "n1")))

	events := provider.EventsForDevice("d1")
	require.Len(t, events, 2)
	assert.Equal(t, "IN", events[0].Activity.Direction)
	assert.Equal(t, "OUT", events[1].Activity.Direction)
}

func TestMemoryProvider_ClosedRejectsPublish(t *testing.T) {
	provider := NewMemoryProvider(10)
	require.NoError(t, provider.Close())

	err := provider.Publish(context.Background(), NewEvent("d1", &detection.Activity{}, "n1"))
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestRelay_PublishDetection(t *testing.T) {
	provider := NewMemoryProvider(10)
	relay, err := NewRelay(provider, "node-1")
	require.NoError(t, err)

	activity := &detection.Activity{Direction: "IN"}
	require.NoError(t, relay.PublishDetection(context.Background(), "d1", activity))

	events := provider.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "detections.d1", events[0].Subject)
	assert.Equal(t, "node-1", events[0].InstanceID)

	stats, err := relay.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPublished)
	assert.Equal(t, int64(0), stats.TotalFailed)
}

func TestNewRelay_Validation(t *testing.T) {
	_, err := NewRelay(nil, "n1")
	assert.Error(t, err)

	_, err = NewRelay(NewMemoryProvider(1), "")
	assert.Error(t, err)
}

func TestNewRelayFromConfig(t *testing.T) {
	relay, err := NewRelayFromConfig(config.RelayConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, relay)

	relay, err = NewRelayFromConfig(config.RelayConfig{
		Enabled:    true,
		Provider:   "memory",
		InstanceID: "node-1",
	})
	require.NoError(t, err)
	require.NotNil(t, relay)
	assert.Equal(t, "node-1", relay.InstanceID())

	_, err = NewRelayFromConfig(config.RelayConfig{Enabled: true, Provider: "bogus"})
	assert.Error(t, err)
}
