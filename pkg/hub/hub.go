package hub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
)

// Lifecycle starts and stops upstream device sessions as observer demand
// changes. Implemented by upstream.Registry.
type Lifecycle interface {
	StartIfAbsent(deviceID string) bool
	Stop(deviceID string)
}

// Hub tracks observer connections and fans detections out to per-device
// rooms. The first observer joining a device starts its upstream session;
// the last one leaving stops it.
type Hub struct {
	lifecycle Lifecycle

	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]map[string]*Connection // deviceID -> connID -> conn

	upgrader websocket.Upgrader
}

// NewHub creates a hub bound to the given lifecycle
func NewHub(lifecycle Lifecycle) *Hub {
	return &Hub{
		lifecycle:   lifecycle,
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an HTTP request and runs the connection pumps
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Hub] Upgrade failed: %v", err)
		return
	}

	conn := NewConnection(uuid.New().String(), ws, h)
	h.register(conn)

	go conn.WritePump()
	go conn.ReadPump()
}

// Join adds the connection to a device room, starting the upstream
// session when it is the room's first observer.
func (h *Hub) Join(conn *Connection, deviceID string) {
	h.mu.Lock()
	room, ok := h.rooms[deviceID]
	if !ok {
		room = make(map[string]*Connection)
		h.rooms[deviceID] = room
	}
	room[conn.ID] = conn
	first := len(room) == 1
	h.mu.Unlock()

	conn.addDevice(deviceID)

	if first {
		if h.lifecycle.StartIfAbsent(deviceID) {
			logger.Info("[Hub] First observer for device %s, upstream session started", deviceID)
		}
	}
	logger.Debug("[Hub] Connection %s joined device %s", conn.ID, deviceID)
}

// Leave removes the connection from a device room, stopping the upstream
// session when the room empties.
func (h *Hub) Leave(conn *Connection, deviceID string) {
	if !conn.removeDevice(deviceID) {
		return
	}

	h.mu.Lock()
	last := false
	if room, ok := h.rooms[deviceID]; ok {
		delete(room, conn.ID)
		if len(room) == 0 {
			delete(h.rooms, deviceID)
			last = true
		}
	}
	h.mu.Unlock()

	if last {
		logger.Info("[Hub] Last observer left device %s, stopping upstream session", deviceID)
		h.lifecycle.Stop(deviceID)
	}
	logger.Debug("[Hub] Connection %s left device %s", conn.ID, deviceID)
}

// BroadcastDetection delivers a detection to every observer of the device
// and returns how many received it.
func (h *Hub) BroadcastDetection(deviceID string, activity *detection.Activity) int {
	msg := NewDetectionMessage(deviceID, activity)
	return h.broadcast(deviceID, msg)
}

// BroadcastStatus delivers an upstream status change to the device's observers
func (h *Hub) BroadcastStatus(deviceID, status, reason string) int {
	msg := NewStatusMessage(deviceID, status, reason)
	return h.broadcast(deviceID, msg)
}

func (h *Hub) broadcast(deviceID string, msg *Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[Hub] Failed to marshal broadcast for device %s: %v", deviceID, err)
		return 0
	}

	h.mu.RLock()
	room := h.rooms[deviceID]
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			logger.Warn("[Hub] Dropping message for connection %s: %v", conn.ID, err)
			continue
		}
		delivered++
	}

	metrics.GetProvider().RecordFanOut(delivered)
	return delivered
}

// ObserverCount returns how many connections observe the device
func (h *Hub) ObserverCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[deviceID])
}

// ConnectionCount returns the number of active observer connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every observer connection
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.unregister(conn)
		conn.Close()
	}
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mu.Unlock()
	logger.Info("[Hub] Connection registered: %s (total: %d)", conn.ID, count)
}

// unregister drops the connection and leaves every room it was in
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn.ID)
	count := len(h.connections)
	h.mu.Unlock()

	for _, deviceID := range conn.Devices() {
		h.Leave(conn, deviceID)
	}
	logger.Info("[Hub] Connection unregistered: %s (total: %d)", conn.ID, count)
}
