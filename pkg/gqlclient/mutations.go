package gqlclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

const createEventProducerMutation = `mutation CreateEventProducer($producer: CreateEventProducerInput!) {
  createEventProducer(eventProducer: $producer) {
    id
    name
    metadata
    active
    description
  }
}`

const createEventMutation = `mutation CreateDetectionEvent($input: CreateEventInput!) {
  createEvent(event: $input) {
    id
    type
    subType
    startTime
    endTime
    draft
    metadata
    eventProducer {
      id
      name
    }
  }
}`

// EventProducer is the upstream record a producer mutation returns
type EventProducer struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Active      bool            `json:"active"`
	Metadata    json.RawMessage `json:"metadata"`
}

// Event is the upstream record a createEvent mutation returns
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubType   string          `json:"subType"`
	StartTime string          `json:"startTime"`
	EndTime   string          `json:"endTime"`
	Draft     bool            `json:"draft"`
	Metadata  json.RawMessage `json:"metadata"`
}

// CreateEventProducer registers a new event producer upstream
func (c *Client) CreateEventProducer(ctx context.Context, name, description string, metadata map[string]interface{}) (*EventProducer, error) {
	data, err := c.Do(ctx, createEventProducerMutation, map[string]interface{}{
		"producer": map[string]interface{}{
			"name":        name,
			"description": description,
			"active":      true,
			"metadata":    metadata,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("createEventProducer failed: %w", err)
	}

	var wrapper struct {
		CreateEventProducer *EventProducer `json:"createEventProducer"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode event producer: %w", err)
	}

	logger.Info("Created event producer %s (%s)", wrapper.CreateEventProducer.Name, wrapper.CreateEventProducer.ID)
	return wrapper.CreateEventProducer, nil
}

// CreateEventInput is the payload for CreateEvent
type CreateEventInput struct {
	EventProducerID string                 `json:"eventProducerId"`
	Type            string                 `json:"type"`
	SubType         string                 `json:"subType"`
	StartTime       string                 `json:"startTime"`
	EndTime         string                 `json:"endTime"`
	Draft           bool                   `json:"draft"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// CreateEvent creates an event upstream
func (c *Client) CreateEvent(ctx context.Context, input CreateEventInput) (*Event, error) {
	data, err := c.Do(ctx, createEventMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"eventProducerId": input.EventProducerID,
			"type":            input.Type,
			"subType":         input.SubType,
			"startTime":       input.StartTime,
			"endTime":         input.EndTime,
			"draft":           input.Draft,
			"metadata":        input.Metadata,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("createEvent failed: %w", err)
	}

	var wrapper struct {
		CreateEvent *Event `json:"createEvent"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	logger.Info("Created event %s (type %s)", wrapper.CreateEvent.ID, wrapper.CreateEvent.Type)
	return wrapper.CreateEvent, nil
}

// CreateDetectionEvent creates an event describing a detection on a track.
// The event type and priority follow the detected tag.
func (c *Client) CreateDetectionEvent(ctx context.Context, producerID, trackID, tag string, confidence float64) (*Event, error) {
	now := time.Now().UTC()

	metadata := map[string]interface{}{
		"trackId":    trackID,
		"tag":        tag,
		"detectedAt": now.Format(time.RFC3339),
		"confidence": confidence,
		"action":     "Detection Alert",
	}

	var eventType, subType string
	switch strings.ToLower(tag) {
	case "person":
		eventType, subType = "PersonDetection", "SecurityAlert"
		metadata["priority"] = "high"
	case "vehicle":
		eventType, subType = "VehicleDetection", "TrafficAlert"
		metadata["priority"] = "medium"
	default:
		eventType, subType = "ObjectDetection", "GeneralAlert"
		metadata["priority"] = "low"
	}
	metadata["description"] = fmt.Sprintf("%s detected on track %s", tag, trackID)

	return c.CreateEvent(ctx, CreateEventInput{
		EventProducerID: producerID,
		Type:            eventType,
		SubType:         subType,
		StartTime:       now.Format(time.RFC3339),
		EndTime:         now.Add(5 * time.Minute).Format(time.RFC3339),
		Draft:           false,
		Metadata:        metadata,
	})
}

// CreateHighConfidenceEvent creates a review-flagged event for detections
// above a confidence threshold
func (c *Client) CreateHighConfidenceEvent(ctx context.Context, producerID, trackID string, confidenceThreshold float64) (*Event, error) {
	now := time.Now().UTC()

	return c.CreateEvent(ctx, CreateEventInput{
		EventProducerID: producerID,
		Type:            "HighConfidenceDetection",
		SubType:         "QualityAlert",
		StartTime:       now.Format(time.RFC3339),
		EndTime:         now.Add(10 * time.Minute).Format(time.RFC3339),
		Draft:           false,
		Metadata: map[string]interface{}{
			"trackId":             trackID,
			"confidenceThreshold": confidenceThreshold,
			"description":         fmt.Sprintf("High confidence detection (>%v) on track %s", confidenceThreshold, trackID),
			"priority":            "high",
			"requiresReview":      true,
		},
	})
}

// CreateZoneViolationEvent creates an event for a zone entry/exit violation
func (c *Client) CreateZoneViolationEvent(ctx context.Context, producerID, trackID string, zoneIDs []string, violationType string) (*Event, error) {
	now := time.Now().UTC()

	return c.CreateEvent(ctx, CreateEventInput{
		EventProducerID: producerID,
		Type:            "ZoneViolation",
		SubType:         fmt.Sprintf("Zone%sAlert", capitalize(violationType)),
		StartTime:       now.Format(time.RFC3339),
		EndTime:         now.Add(15 * time.Minute).Format(time.RFC3339),
		Draft:           false,
		Metadata: map[string]interface{}{
			"trackId":       trackID,
			"zoneIds":       zoneIDs,
			"violationType": violationType,
			"description":   fmt.Sprintf("Zone %s violation on track %s", violationType, trackID),
			"priority":      "high",
			"affectedZones": len(zoneIDs),
		},
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// MutationResults aggregates the output of RunAllMutations
type MutationResults struct {
	EventProducer       *EventProducer `json:"event_producer,omitempty"`
	DetectionEvents     []*Event       `json:"detection_events,omitempty"`
	HighConfidenceEvent *Event         `json:"high_confidence_event,omitempty"`
	ZoneEvent           *Event         `json:"zone_violation_event,omitempty"`
	Errors              []string       `json:"errors,omitempty"`
}

// RunAllMutations creates a demo event producer and a set of events under
// it, collecting per-mutation errors rather than failing fast.
func (c *Client) RunAllMutations(ctx context.Context) *MutationResults {
	results := &MutationResults{}

	producerName := "trackspec_producer_" + time.Now().Format("20060102_150405")
	producer, err := c.CreateEventProducer(ctx, producerName, "created by trackspec", map[string]interface{}{
		"origin": "trackspec",
	})
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
		return results
	}
	results.EventProducer = producer

	for _, sample := range []struct {
		trackID    string
		tag        string
		confidence float64
	}{
		{"track_123", "person", 0.95},
		{"track_456", "vehicle", 0.87},
		{"track_789", "bicycle", 0.72},
	} {
		event, err := c.CreateDetectionEvent(ctx, producer.ID, sample.trackID, sample.tag, sample.confidence)
		if err != nil {
			results.Errors = append(results.Errors, err.Error())
			continue
		}
		results.DetectionEvents = append(results.DetectionEvents, event)
	}

	highConf, err := c.CreateHighConfidenceEvent(ctx, producer.ID, "track_999", 0.9)
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.HighConfidenceEvent = highConf

	zoneEvent, err := c.CreateZoneViolationEvent(ctx, producer.ID, "track_555", []string{"zone_1", "zone_2"}, "entry")
	if err != nil {
		results.Errors = append(results.Errors, err.Error())
	}
	results.ZoneEvent = zoneEvent

	return results
}
