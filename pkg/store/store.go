package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// Store persists detections, tracks and devices in sqlite via Bun
type Store struct {
	db *bun.DB
}

// NewStore opens (or creates) the sqlite database at path and ensures
// the schema exists
func NewStore(ctx context.Context, path string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	s := &Store{db: db}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Detection store initialized at %s", path)
	return s, nil
}

// NewStoreWithDB wraps an existing Bun handle. Used by tests.
func NewStoreWithDB(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	models := []interface{}{
		(*DetectionRow)(nil),
		(*TrackRow)(nil),
		(*DeviceRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name, table, column string
	}{
		{"idx_detections_device_id", "detections", "device_id"},
		{"idx_detections_timestamp", "detections", "timestamp"},
		{"idx_detections_track_id", "detections", "track_id"},
		{"idx_detections_tag", "detections", "tag"},
		{"idx_tracks_device_id", "tracks", "device_id"},
		{"idx_devices_device_id", "devices", "device_id"},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().
			Table(idx.table).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

// InsertDetection flattens one activity event into a detection row.
// Absent nested fields become empty columns, never an error.
func (s *Store) InsertDetection(ctx context.Context, activity *detection.Activity) error {
	row := &DetectionRow{
		DeviceID:  activity.DeviceID,
		Timestamp: activity.Timestamp,
		Direction: activity.Direction,
	}
	if row.DeviceID == "" {
		row.DeviceID = "unknown"
	}

	if track := activity.Track; track != nil {
		row.TrackID = track.ID
		row.Tag = track.Tag
		if track.Video != nil && track.Video.DataSource != nil && track.Video.DataSource.Device != nil {
			row.DeviceName = track.Video.DataSource.Device.Name
		}
	}

	if pos := activity.Position; pos != nil {
		row.PositionType = pos.Type
		row.PositionCoordinates = rawJSONString(pos.Coordinates, "[]")
	}
	if poly := activity.Polygon; poly != nil {
		row.PolygonType = poly.Type
		row.PolygonCoordinates = rawJSONString(poly.Coordinates, "[]")
	}

	if first := activity.FirstSighting(); first != nil {
		row.GeofenceIDs = marshalJSONString(first.GeofenceIDs, "[]")
		row.ZoneIDs = marshalJSONString(first.ZoneIDs, "[]")
		row.GlobalTrackID = first.GlobalTrackID
		row.Metadata = rawJSONString(first.Metadata, "{}")
	}

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// InsertTrack upserts track metadata keyed by track_id
func (s *Store) InsertTrack(ctx context.Context, track *detection.Track, deviceID string) error {
	if track == nil {
		return nil
	}

	row := &TrackRow{
		TrackID:  track.ID,
		DeviceID: deviceID,
		Tag:      track.Tag,
	}
	if track.DataSource != nil {
		row.DataSourceName = track.DataSource.Name
	}
	if video := track.Video; video != nil {
		row.VideoURL = video.URL
		row.VideoThumbnailURL = video.ThumbnailURL
		row.VideoDisplayName = video.DisplayName
		row.VideoResolutionHeight = video.ResolutionHeight
		row.VideoResolutionWidth = video.ResolutionWidth
		row.VideoFrameRate = video.FrameRate
		if ds := video.DataSource; ds != nil {
			row.VideoDataSourceID = ds.ID
			row.VideoDataSourceName = ds.Name
			row.VideoDataSourceType = ds.Type
			if ds.Device != nil {
				row.VideoDeviceName = ds.Device.Name
			}
		}
	}

	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (track_id) DO UPDATE").
		Set("device_id = EXCLUDED.device_id").
		Set("tag = EXCLUDED.tag").
		Set("data_source_name = EXCLUDED.data_source_name").
		Set("video_url = EXCLUDED.video_url").
		Set("video_thumbnail_url = EXCLUDED.video_thumbnail_url").
		Set("video_display_name = EXCLUDED.video_display_name").
		Set("video_resolution_height = EXCLUDED.video_resolution_height").
		Set("video_resolution_width = EXCLUDED.video_resolution_width").
		Set("video_frame_rate = EXCLUDED.video_frame_rate").
		Set("video_data_source_id = EXCLUDED.video_data_source_id").
		Set("video_data_source_name = EXCLUDED.video_data_source_name").
		Set("video_data_source_type = EXCLUDED.video_data_source_type").
		Set("video_device_name = EXCLUDED.video_device_name").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", track.ID, err)
	}
	return nil
}

// InsertDevice upserts one device record keyed by device_id
func (s *Store) InsertDevice(ctx context.Context, device *detection.Device) error {
	if device == nil {
		return nil
	}

	row := &DeviceRow{
		DeviceID:      device.ID,
		DeviceName:    device.Name,
		DeviceAddress: device.Address,
		Enabled:       device.Enabled,
		FrameRate:     device.FrameRate,
	}
	if device.Position != nil {
		row.PositionType = device.Position.Type
		row.PositionCoordinates = rawJSONString(device.Position.Coordinates, "[]")
	}
	if device.Site != nil {
		row.SiteID = device.Site.ID
		row.SiteName = device.Site.Name
	}

	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (device_id) DO UPDATE").
		Set("device_name = EXCLUDED.device_name").
		Set("device_address = EXCLUDED.device_address").
		Set("enabled = EXCLUDED.enabled").
		Set("frame_rate = EXCLUDED.frame_rate").
		Set("position_type = EXCLUDED.position_type").
		Set("position_coordinates = EXCLUDED.position_coordinates").
		Set("site_id = EXCLUDED.site_id").
		Set("site_name = EXCLUDED.site_name").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.ID, err)
	}
	return nil
}

// SaveDetection persists one activity event: the flattened detection
// plus the track upsert when track info is present
func (s *Store) SaveDetection(ctx context.Context, activity *detection.Activity) error {
	if err := s.InsertDetection(ctx, activity); err != nil {
		return err
	}
	if activity.Track != nil && activity.Track.ID != "" {
		if err := s.InsertTrack(ctx, activity.Track, activity.DeviceID); err != nil {
			return err
		}
	}
	return nil
}

// rawJSONString renders already-encoded JSON as a column value
func rawJSONString(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

// marshalJSONString encodes v for a text column
func marshalJSONString(v interface{}, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return string(data)
}
