package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Connection represents one observer WebSocket connection
type Connection struct {
	// ID is a unique identifier for this connection
	ID string

	// ws is the underlying WebSocket connection
	ws *websocket.Conn

	// send is a channel for outbound messages
	send chan []byte

	// devices holds the device IDs this connection observes
	devices map[string]struct{}

	// mu protects devices
	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	hub *Hub

	// closedOnce ensures cleanup happens only once
	closedOnce sync.Once
}

// NewConnection creates a new observer connection
func NewConnection(id string, ws *websocket.Conn, hub *Hub) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:      id,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		devices: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		hub:     hub,
	}
}

// Devices returns the device IDs this connection currently observes
func (c *Connection) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.devices))
	for id := range c.devices {
		out = append(out, id)
	}
	return out
}

func (c *Connection) addDevice(deviceID string) {
	c.mu.Lock()
	c.devices[deviceID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeDevice(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[deviceID]; !ok {
		return false
	}
	delete(c.devices, deviceID)
	return true
}

// ReadPump reads messages from the WebSocket connection
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("[Hub] Connection %s read error: %v", c.ID, err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send sends a message to this connection
func (c *Connection) Send(message []byte) error {
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// SendJSON sends a JSON-encoded message to this connection
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Send(data)
}

// Close closes the connection
func (c *Connection) Close() {
	c.closedOnce.Do(func() {
		c.cancel()
		if c.ws != nil {
			c.ws.Close()
		}
		logger.Info("[Hub] Connection %s closed", c.ID)
	})
}

// handleMessage routes one inbound observer message
func (c *Connection) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		logger.Error("[Hub] Connection %s sent invalid message: %v", c.ID, err)
		_ = c.SendJSON(NewErrorMessage("invalid_message", "Failed to parse message"))
		return
	}

	switch msg.Type {
	case MessageTypeJoinDevice:
		if msg.DeviceID == "" {
			_ = c.SendJSON(NewErrorMessage("missing_device_id", "join_device requires device_id"))
			return
		}
		c.hub.Join(c, msg.DeviceID)
		_ = c.SendJSON(&Message{Type: MessageTypeJoined, DeviceID: msg.DeviceID, Timestamp: time.Now()})

	case MessageTypeLeaveDevice:
		if msg.DeviceID == "" {
			_ = c.SendJSON(NewErrorMessage("missing_device_id", "leave_device requires device_id"))
			return
		}
		c.hub.Leave(c, msg.DeviceID)
		_ = c.SendJSON(&Message{Type: MessageTypeLeft, DeviceID: msg.DeviceID, Timestamp: time.Now()})

	case MessageTypePing:
		_ = c.SendJSON(&Message{Type: MessageTypePong, Timestamp: time.Now()})

	default:
		_ = c.SendJSON(NewErrorMessage("unknown_type", fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}
