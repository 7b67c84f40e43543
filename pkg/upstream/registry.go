package upstream

import (
	"sync"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// Registry holds the single live session per device key. The map is the
// only shared mutable state; every insert, remove and lookup goes
// through one mutex so concurrent join/leave traffic can never race two
// sessions for the same device.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg  config.UpstreamConfig
	sink Sink
}

// NewRegistry creates a registry that spawns sessions with the given
// upstream configuration and sink
func NewRegistry(cfg config.UpstreamConfig, sink Sink) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		sink:     sink,
	}
}

// StartIfAbsent atomically checks for a live session for deviceID and
// spawns one when absent. Returns false when a session already exists.
func (r *Registry) StartIfAbsent(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[deviceID]; exists {
		return false
	}

	session := NewSession(deviceID, r.cfg, r.sink)
	session.onExit = func() {
		r.remove(deviceID, session)
	}
	r.sessions[deviceID] = session

	go session.Run()

	logger.Info("[%s] Upstream session started (active: %d)", deviceID, len(r.sessions))
	return true
}

// Stop cancels the session for deviceID if one exists and removes its
// entry. A no-op for unknown devices and safe to call repeatedly, even
// while the session is mid-teardown on its own.
func (r *Registry) Stop(deviceID string) {
	r.mu.Lock()
	session, exists := r.sessions[deviceID]
	if exists {
		delete(r.sessions, deviceID)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	session.Stop()
	logger.Info("[%s] Upstream session stopped", deviceID)
}

// StopAll stops every live session. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

// Active returns the device keys with a registered session
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]string, 0, len(r.sessions))
	for deviceID := range r.sessions {
		devices = append(devices, deviceID)
	}
	return devices
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// remove deletes the entry for deviceID only when it still points at
// the given session. A session that terminates naturally after Stop
// already removed it (or after a fresh session replaced it) must not
// clobber the newer entry.
func (r *Registry) remove(deviceID string, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.sessions[deviceID]; exists && current == session {
		delete(r.sessions, deviceID)
	}
}
