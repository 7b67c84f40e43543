package store

import (
	"time"

	"github.com/uptrace/bun"
)

// DetectionRow is one persisted detection event, flattened from the
// nested upstream payload the way consumers query it.
type DetectionRow struct {
	bun.BaseModel `bun:"table:detections"`

	ID                  int64     `bun:"id,pk,autoincrement" json:"id"`
	DeviceID            string    `bun:"device_id,notnull" json:"device_id"`
	TrackID             string    `bun:"track_id" json:"track_id"`
	Tag                 string    `bun:"tag" json:"tag"`
	Timestamp           string    `bun:"timestamp,notnull" json:"timestamp"`
	Direction           string    `bun:"direction" json:"direction"`
	PositionType        string    `bun:"position_type" json:"position_type"`
	PositionCoordinates string    `bun:"position_coordinates" json:"position_coordinates"`
	PolygonType         string    `bun:"polygon_type" json:"polygon_type"`
	PolygonCoordinates  string    `bun:"polygon_coordinates" json:"polygon_coordinates"`
	GeofenceIDs         string    `bun:"geofence_ids" json:"geofence_ids"`
	ZoneIDs             string    `bun:"zone_ids" json:"zone_ids"`
	GlobalTrackID       string    `bun:"global_track_id" json:"global_track_id"`
	DeviceName          string    `bun:"device_name" json:"device_name"`
	Metadata            string    `bun:"metadata" json:"metadata"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt           time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// TrackRow is the latest known metadata for a track, upserted on every
// event that carries track info.
type TrackRow struct {
	bun.BaseModel `bun:"table:tracks"`

	ID                    int64     `bun:"id,pk,autoincrement" json:"id"`
	TrackID               string    `bun:"track_id,unique,notnull" json:"track_id"`
	DeviceID              string    `bun:"device_id,notnull" json:"device_id"`
	Tag                   string    `bun:"tag" json:"tag"`
	DataSourceName        string    `bun:"data_source_name" json:"data_source_name"`
	VideoURL              string    `bun:"video_url" json:"video_url"`
	VideoThumbnailURL     string    `bun:"video_thumbnail_url" json:"video_thumbnail_url"`
	VideoDisplayName      string    `bun:"video_display_name" json:"video_display_name"`
	VideoResolutionHeight int       `bun:"video_resolution_height" json:"video_resolution_height"`
	VideoResolutionWidth  int       `bun:"video_resolution_width" json:"video_resolution_width"`
	VideoFrameRate        float64   `bun:"video_frame_rate" json:"video_frame_rate"`
	VideoDataSourceID     string    `bun:"video_data_source_id" json:"video_data_source_id"`
	VideoDataSourceName   string    `bun:"video_data_source_name" json:"video_data_source_name"`
	VideoDataSourceType   string    `bun:"video_data_source_type" json:"video_data_source_type"`
	VideoDeviceName       string    `bun:"video_device_name" json:"video_device_name"`
	CreatedAt             time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt             time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// DeviceRow is one upstream device, refreshed from the devices query
type DeviceRow struct {
	bun.BaseModel `bun:"table:devices"`

	ID                  int64     `bun:"id,pk,autoincrement" json:"id"`
	DeviceID            string    `bun:"device_id,unique,notnull" json:"device_id"`
	DeviceName          string    `bun:"device_name" json:"device_name"`
	DeviceAddress       string    `bun:"device_address" json:"device_address"`
	Enabled             bool      `bun:"enabled" json:"enabled"`
	FrameRate           float64   `bun:"frame_rate" json:"frame_rate"`
	PositionType        string    `bun:"position_type" json:"position_type"`
	PositionCoordinates string    `bun:"position_coordinates" json:"position_coordinates"`
	SiteID              string    `bun:"site_id" json:"site_id"`
	SiteName            string    `bun:"site_name" json:"site_name"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt           time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// DatabaseStats summarizes the whole store
type DatabaseStats struct {
	TotalDetections int64  `json:"total_detections"`
	TotalTracks     int64  `json:"total_tracks"`
	LatestDetection string `json:"latest_detection"`
	OldestDetection string `json:"oldest_detection"`
}

// DetectionStats aggregates detections per device over a recent window
type DetectionStats struct {
	TotalDetections int64  `bun:"total_detections" json:"total_detections"`
	UniqueTracks    int64  `bun:"unique_tracks" json:"unique_tracks"`
	UniqueTags      int64  `bun:"unique_tags" json:"unique_tags"`
	DeviceID        string `bun:"device_id" json:"device_id"`
	DeviceName      string `bun:"device_name" json:"device_name"`
}

// TagStats aggregates detections per tag
type TagStats struct {
	Tag            string `bun:"tag" json:"tag"`
	DetectionCount int64  `bun:"detection_count" json:"detection_count"`
	TrackCount     int64  `bun:"track_count" json:"track_count"`
	DeviceCount    int64  `bun:"device_count" json:"device_count"`
}

// TrackSummary describes the longest track observed for a tag
type TrackSummary struct {
	Tag             string  `bun:"tag" json:"tag"`
	TrackID         string  `bun:"track_id" json:"track_id"`
	DeviceID        string  `bun:"device_id" json:"device_id"`
	DeviceName      string  `bun:"device_name" json:"device_name"`
	DetectionCount  int64   `bun:"detection_count" json:"detection_count"`
	FirstDetection  string  `bun:"first_detection" json:"first_detection"`
	LastDetection   string  `bun:"last_detection" json:"last_detection"`
	DurationSeconds float64 `bun:"duration_seconds" json:"duration_seconds"`
}
