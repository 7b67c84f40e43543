package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/detection"
)

// MessageType represents the type of an observer WebSocket message
type MessageType string

const (
	// MessageTypeJoinDevice asks to observe a device's detection stream
	MessageTypeJoinDevice MessageType = "join_device"
	// MessageTypeLeaveDevice stops observing a device
	MessageTypeLeaveDevice MessageType = "leave_device"
	// MessageTypeJoined acknowledges a join
	MessageTypeJoined MessageType = "joined"
	// MessageTypeLeft acknowledges a leave
	MessageTypeLeft MessageType = "left"
	// MessageTypeDetectionData carries one detection to observers
	MessageTypeDetectionData MessageType = "detection_data"
	// MessageTypeConnectionStatus reports upstream session state changes
	MessageTypeConnectionStatus MessageType = "connection_status"
	// MessageTypeError is an error response
	MessageTypeError MessageType = "error"
	// MessageTypePing is a keepalive ping message
	MessageTypePing MessageType = "ping"
	// MessageTypePong is a keepalive pong response
	MessageTypePong MessageType = "pong"
)

// Message is one observer-protocol frame in either direction
type Message struct {
	Type MessageType `json:"type"`

	// DeviceID names the device for join/leave/detection/status messages
	DeviceID string `json:"device_id,omitempty"`

	// Data carries a detection for detection_data messages
	Data *detection.Activity `json:"data,omitempty"`

	// Status and Reason describe the upstream session for connection_status
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Error contains error information
	Error *ErrorInfo `json:"error,omitempty"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseMessage parses an inbound observer message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	return &msg, nil
}

// NewDetectionMessage builds a detection_data notification
func NewDetectionMessage(deviceID string, activity *detection.Activity) *Message {
	return &Message{
		Type:      MessageTypeDetectionData,
		DeviceID:  deviceID,
		Data:      activity,
		Timestamp: time.Now(),
	}
}

// NewStatusMessage builds a connection_status notification
func NewStatusMessage(deviceID, status, reason string) *Message {
	return &Message{
		Type:      MessageTypeConnectionStatus,
		DeviceID:  deviceID,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// NewErrorMessage builds an error response
func NewErrorMessage(code, message string) *Message {
	return &Message{
		Type:      MessageTypeError,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	}
}
