package detection

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Activity is the decoded payload of one detectionActivity event.
// Every nested field is optional: the upstream service omits anything
// it has no data for, and consumers must tolerate that. Immutable once
// decoded.
type Activity struct {
	Track     *Track    `json:"track,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Position  *Geometry `json:"position,omitempty"`
	Polygon   *Geometry `json:"polygon,omitempty"`

	// DeviceID is not part of the upstream payload; the session stamps
	// it before the event enters the sink.
	DeviceID string `json:"device_id,omitempty"`
}

// Track carries the track metadata nested in an activity event
type Track struct {
	ID         string          `json:"id,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	DataSource *DataSourceRef  `json:"dataSource,omitempty"`
	Video      *Video          `json:"video,omitempty"`
	Detections []TrackSighting `json:"detections,omitempty"`
}

// DataSourceRef is a minimal data source reference
type DataSourceRef struct {
	Name string `json:"name,omitempty"`
}

// Video describes the video stream a track was observed on
type Video struct {
	URL              string      `json:"url,omitempty"`
	ThumbnailURL     string      `json:"thumbnailUrl,omitempty"`
	DisplayName      string      `json:"displayName,omitempty"`
	ResolutionHeight int         `json:"resolutionHeight,omitempty"`
	ResolutionWidth  int         `json:"resolutionWidth,omitempty"`
	FrameRate        float64     `json:"frameRate,omitempty"`
	DataSource       *DataSource `json:"dataSource,omitempty"`
}

// DataSource describes the source device of a video stream
type DataSource struct {
	ID     string     `json:"id,omitempty"`
	Name   string     `json:"name,omitempty"`
	Type   string     `json:"type,omitempty"`
	Device *DeviceRef `json:"device,omitempty"`
}

// DeviceRef is a minimal device reference
type DeviceRef struct {
	Name string `json:"name,omitempty"`
}

// TrackSighting is one historical detection belonging to a track
type TrackSighting struct {
	Timestamp     string          `json:"timestamp,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	Direction     string          `json:"direction,omitempty"`
	GeofenceIDs   []string        `json:"geofenceIds,omitempty"`
	ZoneIDs       []string        `json:"zoneIds,omitempty"`
	GlobalTrackID string          `json:"globalTrackId,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	Tag           string          `json:"tag,omitempty"`
	Polygon       *Geometry       `json:"polygon,omitempty"`
	Position      *Geometry       `json:"position,omitempty"`
}

// Geometry is a GeoJSON-style geometry. Coordinates nest arbitrarily
// (point vs polygon), so they stay raw until a consumer needs them.
type Geometry struct {
	Type        string          `json:"type,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// Device is one device record from the upstream devices query
type Device struct {
	ID         string    `json:"id,omitempty"`
	UUID       string    `json:"uuid,omitempty"`
	ExternalID string    `json:"externalId,omitempty"`
	Name       string    `json:"name,omitempty"`
	Enabled    bool      `json:"enabled,omitempty"`
	Address    string    `json:"address,omitempty"`
	FrameRate  float64   `json:"frameRate,omitempty"`
	Position   *Geometry `json:"position,omitempty"`
	Site       *Site     `json:"site,omitempty"`
}

// Site is the site a device belongs to
type Site struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ExtractActivity pulls the detectionActivity object out of a next
// frame's payload and stamps it with the device key. The second return
// is false when the payload carries no activity (a keepalive-ish empty
// result), which is not an error.
func ExtractActivity(payload []byte, deviceID string) (*Activity, bool, error) {
	result := gjson.GetBytes(payload, "data.detectionActivity")
	if !result.Exists() || result.Type == gjson.Null {
		return nil, false, nil
	}

	var activity Activity
	if err := json.Unmarshal([]byte(result.Raw), &activity); err != nil {
		return nil, false, fmt.Errorf("failed to decode detection activity: %w", err)
	}

	activity.DeviceID = deviceID
	return &activity, true, nil
}

// FirstSighting returns the first nested track detection, which carries
// the geofence/zone/global-track fields the store flattens. Nil when the
// track or its detections are absent.
func (a *Activity) FirstSighting() *TrackSighting {
	if a.Track == nil || len(a.Track.Detections) == 0 {
		return nil
	}
	return &a.Track.Detections[0]
}
