package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType represents the type of a graphql-transport-ws frame
type FrameType string

const (
	// FrameConnectionInit opens the protocol handshake
	FrameConnectionInit FrameType = "connection_init"
	// FrameConnectionAck acknowledges the handshake
	FrameConnectionAck FrameType = "connection_ack"
	// FrameSubscribe starts a subscription operation
	FrameSubscribe FrameType = "subscribe"
	// FrameNext carries one subscription result
	FrameNext FrameType = "next"
	// FrameError reports an operation error from the server
	FrameError FrameType = "error"
	// FrameComplete signals the end of a subscription
	FrameComplete FrameType = "complete"
	// FramePing is a keepalive probe
	FramePing FrameType = "ping"
	// FramePong answers a ping
	FramePong FrameType = "pong"
)

// ErrMalformedFrame is returned when a frame cannot be decoded or
// carries an unrecognized type. Callers treat it as non-fatal: log,
// drop the frame, keep reading.
var ErrMalformedFrame = fmt.Errorf("malformed protocol frame")

// Frame is one JSON message unit of the subscription wire protocol
type Frame struct {
	// Type is the frame type
	Type FrameType `json:"type"`

	// ID correlates subscribe/next/error/complete frames
	ID string `json:"id,omitempty"`

	// Payload carries the frame's type-specific body, decoded lazily
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is the payload of a subscribe frame
type SubscribePayload struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// ErrorPayload is one GraphQL error from an error frame
type ErrorPayload struct {
	Message string `json:"message"`
}

// knownTypes is the closed set of frame types this codec understands
var knownTypes = map[FrameType]struct{}{
	FrameConnectionInit: {},
	FrameConnectionAck:  {},
	FrameSubscribe:      {},
	FrameNext:           {},
	FrameError:          {},
	FrameComplete:       {},
	FramePing:           {},
	FramePong:           {},
}

// ParseFrame decodes a raw message into a Frame. A frame that does not
// parse as JSON or carries an unknown type yields ErrMalformedFrame.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if _, ok := knownTypes[f.Type]; !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return &f, nil
}

// ToJSON encodes the frame for the wire
func (f *Frame) ToJSON() ([]byte, error) {
	return json.Marshal(f)
}

// Errors decodes the payload of an error frame. Returns nil when the
// payload is absent or not an error list.
func (f *Frame) Errors() []ErrorPayload {
	if f.Type != FrameError || len(f.Payload) == 0 {
		return nil
	}
	var errs []ErrorPayload
	if err := json.Unmarshal(f.Payload, &errs); err != nil {
		return nil
	}
	return errs
}

// NewConnectionInit builds the handshake frame carrying the credential
// pair as payload
func NewConnectionInit(tokenID, tokenValue string) (*Frame, error) {
	payload, err := json.Marshal(map[string]string{
		"x-token-id":    tokenID,
		"x-token-value": tokenValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode connection_init payload: %w", err)
	}
	return &Frame{Type: FrameConnectionInit, Payload: payload}, nil
}

// NewSubscribe builds a subscribe frame for the given operation id
func NewSubscribe(id, query string, variables map[string]interface{}) (*Frame, error) {
	payload, err := json.Marshal(SubscribePayload{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscribe payload: %w", err)
	}
	return &Frame{Type: FrameSubscribe, ID: id, Payload: payload}, nil
}

// NewPong builds a keepalive reply. The protocol allows an empty payload.
func NewPong() *Frame {
	return &Frame{Type: FramePong}
}
