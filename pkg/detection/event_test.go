package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "data": {
    "detectionActivity": {
      "track": {
        "id": "track-1",
        "tag": "person",
        "dataSource": {"name": "front-door"},
        "video": {
          "url": "https://cdn.example.com/v.mp4",
          "thumbnailUrl": "https://cdn.example.com/t.jpg",
          "displayName": "Front Door",
          "resolutionHeight": 1080,
          "resolutionWidth": 1920,
          "dataSource": {
            "id": "ds-1",
            "name": "front-door",
            "type": "CAMERA",
            "device": {"name": "Axis P3245"}
          }
        },
        "detections": [
          {
            "timestamp": "2025-01-01T00:00:00Z",
            "direction": "IN",
            "geofenceIds": ["gf-1"],
            "zoneIds": ["z-1", "z-2"],
            "globalTrackId": "gt-1",
            "deviceId": "d1",
            "tag": "person",
            "position": {"type": "Point", "coordinates": [1.5, 2.5]}
          }
        ]
      },
      "timestamp": "2025-01-01T00:00:00Z",
      "direction": "IN",
      "position": {"type": "Point", "coordinates": [1.5, 2.5]},
      "polygon": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}
    }
  }
}`

func TestExtractActivity(t *testing.T) {
	activity, ok, err := ExtractActivity([]byte(samplePayload), "d1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "d1", activity.DeviceID)
	assert.Equal(t, "IN", activity.Direction)
	assert.Equal(t, "2025-01-01T00:00:00Z", activity.Timestamp)

	require.NotNil(t, activity.Track)
	assert.Equal(t, "track-1", activity.Track.ID)
	assert.Equal(t, "person", activity.Track.Tag)
	require.NotNil(t, activity.Track.Video)
	assert.Equal(t, 1080, activity.Track.Video.ResolutionHeight)
	require.NotNil(t, activity.Track.Video.DataSource)
	assert.Equal(t, "CAMERA", activity.Track.Video.DataSource.Type)
	require.NotNil(t, activity.Track.Video.DataSource.Device)
	assert.Equal(t, "Axis P3245", activity.Track.Video.DataSource.Device.Name)

	require.NotNil(t, activity.Position)
	assert.Equal(t, "Point", activity.Position.Type)
	assert.JSONEq(t, `[1.5, 2.5]`, string(activity.Position.Coordinates))
}

func TestExtractActivity_MissingActivity(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty data", `{"data":{}}`},
		{"null activity", `{"data":{"detectionActivity":null}}`},
		{"no data key", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, ok, err := ExtractActivity([]byte(tt.payload), "d1")
			assert.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, activity)
		})
	}
}

func TestExtractActivity_PartialPayload(t *testing.T) {
	// Absent nested fields must decode into nils, never an error
	activity, ok, err := ExtractActivity([]byte(`{"data":{"detectionActivity":{"direction":"OUT"}}}`), "d2")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "OUT", activity.Direction)
	assert.Nil(t, activity.Track)
	assert.Nil(t, activity.Position)
	assert.Nil(t, activity.FirstSighting())
}

func TestActivity_FirstSighting(t *testing.T) {
	activity, ok, err := ExtractActivity([]byte(samplePayload), "d1")
	require.NoError(t, err)
	require.True(t, ok)

	sighting := activity.FirstSighting()
	require.NotNil(t, sighting)
	assert.Equal(t, "gt-1", sighting.GlobalTrackID)
	assert.Equal(t, []string{"gf-1"}, sighting.GeofenceIDs)
	assert.Equal(t, []string{"z-1", "z-2"}, sighting.ZoneIDs)
}
