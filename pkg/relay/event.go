package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/TrackSpec/pkg/detection"
)

// Event is one detection wrapped for re-publication to an external broker.
type Event struct {
	ID         string              `json:"id"`
	DeviceID   string              `json:"device_id"`
	Subject    string              `json:"subject"`
	Activity   *detection.Activity `json:"activity"`
	InstanceID string              `json:"instance_id"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewEvent wraps a detection for publication.
// Subject format: detections.{device_id}
func NewEvent(deviceID string, activity *detection.Activity, instanceID string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Subject:    "detections." + deviceID,
		Activity:   activity,
		InstanceID: instanceID,
		CreatedAt:  time.Now(),
	}
}

// Validate checks that the event is well-formed
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if e.Activity == nil {
		return fmt.Errorf("activity is required")
	}
	return nil
}
