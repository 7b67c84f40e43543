package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/relay"
)

type fakeWriter struct {
	mu    sync.Mutex
	saved []*detection.Activity
	err   error
}

func (f *fakeWriter) SaveDetection(ctx context.Context, activity *detection.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, activity)
	return nil
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	detections []*detection.Activity
	statuses   [][3]string
}

func (f *fakeBroadcaster) BroadcastDetection(deviceID string, activity *detection.Activity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = append(f.detections, activity)
	return 1
}

func (f *fakeBroadcaster) BroadcastStatus(deviceID, status, reason string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, [3]string{deviceID, status, reason})
	return 1
}

func TestSink_PersistThenFanOut(t *testing.T) {
	writer := &fakeWriter{}
	broadcaster := &fakeBroadcaster{}
	s := NewSink(writer, broadcaster, nil)

	activity := &detection.Activity{DeviceID: "d1", Direction: "IN"}
	s.PublishDetection("d1", activity)

	require.Len(t, writer.saved, 1)
	require.Len(t, broadcaster.detections, 1)
	assert.Same(t, activity, broadcaster.detections[0])
}

func TestSink_PersistFailureDoesNotBlockFanOut(t *testing.T) {
	writer := &fakeWriter{err: errors.New("disk full")}
	broadcaster := &fakeBroadcaster{}
	s := NewSink(writer, broadcaster, nil)

	s.PublishDetection("d1", &detection.Activity{DeviceID: "d1"})

	assert.Empty(t, writer.saved)
	assert.Len(t, broadcaster.detections, 1)
}

func TestSink_RelayReceivesDetections(t *testing.T) {
	provider := relay.NewMemoryProvider(10)
	r, err := relay.NewRelay(provider, "node-1")
	require.NoError(t, err)

	s := NewSink(&fakeWriter{}, &fakeBroadcaster{}, r)
	s.PublishDetection("d1", &detection.Activity{DeviceID: "d1", Direction: "OUT"})

	events := provider.EventsForDevice("d1")
	require.Len(t, events, 1)
	assert.Equal(t, "detections.d1", events[0].Subject)
}

func TestSink_PublishStatus(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := NewSink(&fakeWriter{}, broadcaster, nil)

	s.PublishStatus("d1", "disconnected", "transport_error")

	require.Len(t, broadcaster.statuses, 1)
	assert.Equal(t, [3]string{"d1", "disconnected", "transport_error"}, broadcaster.statuses[0])
}
