package store

import (
	"context"
	"fmt"
)

// DatabaseStats returns overall store statistics
func (s *Store) DatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	var err error
	stats.TotalDetections, err = s.countRows(ctx, (*DetectionRow)(nil))
	if err != nil {
		return nil, err
	}
	stats.TotalTracks, err = s.countRows(ctx, (*TrackRow)(nil))
	if err != nil {
		return nil, err
	}

	if err := s.db.NewRaw(
		"SELECT COALESCE(MAX(timestamp), ''), COALESCE(MIN(timestamp), '') FROM detections",
	).Scan(ctx, &stats.LatestDetection, &stats.OldestDetection); err != nil {
		return nil, fmt.Errorf("failed to query detection bounds: %w", err)
	}

	return stats, nil
}

func (s *Store) countRows(ctx context.Context, model interface{}) (int64, error) {
	count, err := s.db.NewSelect().Model(model).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %T: %w", model, err)
	}
	return int64(count), nil
}

// DetectionStatsByDevice aggregates recent detections. With a device id
// it returns a single row for that device; without one, a row per device.
func (s *Store) DetectionStatsByDevice(ctx context.Context, deviceID string, hours int) ([]DetectionStats, error) {
	if hours <= 0 {
		hours = 24
	}

	var stats []DetectionStats
	window := fmt.Sprintf("-%d hours", hours)

	if deviceID != "" {
		err := s.db.NewRaw(`
			SELECT
				COUNT(*) AS total_detections,
				COUNT(DISTINCT track_id) AS unique_tracks,
				COUNT(DISTINCT tag) AS unique_tags,
				COALESCE(device_id, ?) AS device_id,
				COALESCE(device_name, '') AS device_name
			FROM detections
			WHERE timestamp >= datetime('now', ?) AND device_id = ?`,
			deviceID, window, deviceID,
		).Scan(ctx, &stats)
		if err != nil {
			return nil, fmt.Errorf("failed to query detection stats: %w", err)
		}
		return stats, nil
	}

	err := s.db.NewRaw(`
		SELECT
			COUNT(*) AS total_detections,
			COUNT(DISTINCT track_id) AS unique_tracks,
			COUNT(DISTINCT tag) AS unique_tags,
			device_id,
			COALESCE(device_name, '') AS device_name
		FROM detections
		WHERE timestamp >= datetime('now', ?)
		GROUP BY device_id, device_name`,
		window,
	).Scan(ctx, &stats)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection stats: %w", err)
	}
	return stats, nil
}

// RecentDetections returns the most recent detections, optionally
// filtered by device
func (s *Store) RecentDetections(ctx context.Context, limit int, deviceID string) ([]DetectionRow, error) {
	if limit <= 0 {
		limit = 100
	}

	q := s.db.NewSelect().
		Model((*DetectionRow)(nil)).
		Order("timestamp DESC").
		Limit(limit)
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}

	var rows []DetectionRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to query recent detections: %w", err)
	}
	return rows, nil
}

// DetectionsByTimeRange returns detections between two timestamps,
// optionally filtered by device
func (s *Store) DetectionsByTimeRange(ctx context.Context, startTime, endTime, deviceID string) ([]DetectionRow, error) {
	q := s.db.NewSelect().
		Model((*DetectionRow)(nil)).
		Where("timestamp BETWEEN ? AND ?", startTime, endTime).
		Order("timestamp DESC")
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}

	var rows []DetectionRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to query detections by time range: %w", err)
	}
	return rows, nil
}

// AllTags returns every distinct tag with its detection, track and
// device counts
func (s *Store) AllTags(ctx context.Context) ([]TagStats, error) {
	var tags []TagStats
	err := s.db.NewRaw(`
		SELECT
			tag,
			COUNT(*) AS detection_count,
			COUNT(DISTINCT track_id) AS track_count,
			COUNT(DISTINCT device_id) AS device_count
		FROM detections
		WHERE tag IS NOT NULL AND tag != ''
		GROUP BY tag
		ORDER BY detection_count DESC`,
	).Scan(ctx, &tags)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	return tags, nil
}

// LongestTrackPerTag returns, for each tag, the track with the most
// detections (ties broken by duration)
func (s *Store) LongestTrackPerTag(ctx context.Context) ([]TrackSummary, error) {
	var tracks []TrackSummary
	err := s.db.NewRaw(`
		WITH track_durations AS (
			SELECT
				track_id,
				tag,
				device_id,
				COALESCE(device_name, '') AS device_name,
				COUNT(*) AS detection_count,
				MIN(timestamp) AS first_detection,
				MAX(timestamp) AS last_detection,
				(julianday(MAX(timestamp)) - julianday(MIN(timestamp))) * 24 * 60 * 60 AS duration_seconds
			FROM detections
			WHERE tag IS NOT NULL AND tag != ''
			GROUP BY track_id, tag, device_id, device_name
		),
		ranked_tracks AS (
			SELECT
				*,
				ROW_NUMBER() OVER (PARTITION BY tag ORDER BY detection_count DESC, duration_seconds DESC) AS rank
			FROM track_durations
		)
		SELECT
			tag, track_id, device_id, device_name,
			detection_count, first_detection, last_detection, duration_seconds
		FROM ranked_tracks
		WHERE rank = 1
		ORDER BY detection_count DESC`,
	).Scan(ctx, &tracks)
	if err != nil {
		return nil, fmt.Errorf("failed to query longest tracks: %w", err)
	}
	return tracks, nil
}
