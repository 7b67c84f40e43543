package gqlclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
)

const devicesQuery = `query GetDevices {
  devices(first: 100, sort: { direction: ASC, field: ID }) {
    edges {
      cursor
      node {
        id
        uuid
        externalId
        name
        enabled
        address
        frameRate
        position {
          type
          coordinates
        }
        site {
          id
          name
        }
      }
    }
    pageInfo {
      hasNextPage
      hasPreviousPage
      startCursor
      endCursor
    }
  }
}`

const detailedTracksQuery = `query GetDetailedTracks($start: DateTimeOffset!, $end: DateTimeOffset!) {
  tracks(filter: { time: { between: [$start, $end] } }) {
    edges {
      node {
        id
        tag
        startTime
        endTime
        video {
          id
          dataSource {
            name
            id
            device {
              id
              uuid
              name
              site {
                id
                name
              }
            }
            type
          }
          thumbnailUrl
          url
          resolutionWidth
          resolutionHeight
          frameRate
        }
        detections {
          timestamp
          position {
            coordinates
          }
        }
        dataSource {
          id
          name
          type
          device {
            id
            uuid
            externalId
            name
            enabled
            address
            frameRate
            site {
              id
              name
            }
          }
        }
      }
      cursor
    }
    pageInfo {
      hasNextPage
      hasPreviousPage
      startCursor
      endCursor
    }
  }
}`

const detectionsByTimeRangeQuery = `query GetDetectionsByTimeRange($start: DateTimeOffset!, $end: DateTimeOffset!) {
  detections(
    filter: { time: { between: [$start, $end] } }
    sort: { field: DETECTION_TIME, direction: ASC }
  ) {
    edges {
      node {
        direction
        createdAt
        updatedAt
        timestamp
        track {
          id
          startTime
          endTime
          metadata
          dataSource {
            id
            name
            type
            device {
              id
              uuid
              name
              address
              frameRate
              site {
                name
              }
            }
            zones {
              id
              name
            }
          }
        }
      }
    }
  }
}`

const detectionsByTagQuery = `query GetDetectionsByTag($tag: String!) {
  detections(
    first: 30
    filter: { track: { tag: { eq: $tag } } }
    sort: [{ field: TIMESTAMP, direction: DESC }]
  ) {
    edges {
      node {
        id
        timestamp
        position {
          coordinates
        }
        confidence
        track {
          id
          tag
          startTime
        }
        device {
          id
          name
        }
      }
    }
  }
}`

// FetchDevices retrieves the device inventory from upstream
func (c *Client) FetchDevices(ctx context.Context) ([]detection.Device, error) {
	data, err := c.Do(ctx, devicesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("devices query failed: %w", err)
	}

	var devices []detection.Device
	for _, node := range edgeNodes(data, "devices") {
		var device detection.Device
		if err := json.Unmarshal([]byte(node.Raw), &device); err != nil {
			logger.Warn("Skipping undecodable device: %v", err)
			continue
		}
		devices = append(devices, device)
	}

	logger.Info("Fetched %d device(s) from upstream", len(devices))
	return devices, nil
}

// FetchDetailedTracks retrieves tracks with their detections for a time window
func (c *Client) FetchDetailedTracks(ctx context.Context, start, end time.Time) ([]json.RawMessage, error) {
	data, err := c.Do(ctx, detailedTracksQuery, map[string]interface{}{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("tracks query failed: %w", err)
	}

	return rawNodes(data, "tracks"), nil
}

// FetchDetectionsByTimeRange retrieves detections within a time window
func (c *Client) FetchDetectionsByTimeRange(ctx context.Context, start, end time.Time) ([]json.RawMessage, error) {
	data, err := c.Do(ctx, detectionsByTimeRangeQuery, map[string]interface{}{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("detections query failed: %w", err)
	}

	return rawNodes(data, "detections"), nil
}

// FetchDetectionsByTag retrieves the most recent detections for a tag
func (c *Client) FetchDetectionsByTag(ctx context.Context, tag string) ([]json.RawMessage, error) {
	data, err := c.Do(ctx, detectionsByTagQuery, map[string]interface{}{"tag": tag})
	if err != nil {
		return nil, fmt.Errorf("detections-by-tag query failed: %w", err)
	}

	return rawNodes(data, "detections"), nil
}

// QueryResults aggregates the output of RunAllQueries
type QueryResults struct {
	Devices          []detection.Device `json:"devices"`
	Tracks           []json.RawMessage  `json:"tracks"`
	DetectionsTime   []json.RawMessage  `json:"detections_time"`
	DetectionsPerson []json.RawMessage  `json:"detections_person"`
	Errors           []string           `json:"errors,omitempty"`
}

// RunAllQueries executes every example query against upstream, collecting
// per-query errors rather than failing fast.
func (c *Client) RunAllQueries(ctx context.Context) *QueryResults {
	results := &QueryResults{}

	devices, err := c.FetchDevices(ctx)
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.Devices = devices

	now := time.Now()
	tracks, err := c.FetchDetailedTracks(ctx, now.Add(-12*time.Hour), now)
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.Tracks = tracks

	detectionsTime, err := c.FetchDetectionsByTimeRange(ctx, now.Add(-12*time.Hour), now)
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.DetectionsTime = detectionsTime

	detectionsPerson, err := c.FetchDetectionsByTag(ctx, "person")
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.DetectionsPerson = detectionsPerson

	return results
}

// rawNodes extracts edge nodes as raw JSON
func rawNodes(data json.RawMessage, field string) []json.RawMessage {
	var out []json.RawMessage
	for _, node := range edgeNodes(data, field) {
		out = append(out, json.RawMessage(node.Raw))
	}
	return out
}
