package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryProvider keeps relayed events in a bounded in-process ring.
// Used in tests and when no external broker is configured.
type MemoryProvider struct {
	mu     sync.RWMutex
	events []*Event
	maxLen int

	published atomic.Int64
	closed    atomic.Bool
}

// NewMemoryProvider creates an in-memory provider retaining at most maxLen events
func NewMemoryProvider(maxLen int) *MemoryProvider {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryProvider{maxLen: maxLen}
}

// Publish appends the event, dropping the oldest when full
func (mp *MemoryProvider) Publish(ctx context.Context, event *Event) error {
	if mp.closed.Load() {
		return ErrProviderClosed
	}
	if err := event.Validate(); err != nil {
		return err
	}

	mp.mu.Lock()
	mp.events = append(mp.events, event)
	if len(mp.events) > mp.maxLen {
		mp.events = mp.events[len(mp.events)-mp.maxLen:]
	}
	mp.mu.Unlock()

	mp.published.Add(1)
	return nil
}

// Events returns a snapshot of retained events
func (mp *MemoryProvider) Events() []*Event {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	out := make([]*Event, len(mp.events))
	copy(out, mp.events)
	return out
}

// EventsForDevice returns retained events for one device
func (mp *MemoryProvider) EventsForDevice(deviceID string) []*Event {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	var out []*Event
	for _, event := range mp.events {
		if event.DeviceID == deviceID {
			out = append(out, event)
		}
	}
	return out
}

// Stats returns provider statistics
func (mp *MemoryProvider) Stats(ctx context.Context) (*ProviderStats, error) {
	mp.mu.RLock()
	retained := len(mp.events)
	mp.mu.RUnlock()

	return &ProviderStats{
		ProviderType:    "memory",
		EventsPublished: mp.published.Load(),
		ProviderSpecific: map[string]interface{}{
			"retained": retained,
			"max_len":  mp.maxLen,
		},
	}, nil
}

// Close marks the provider closed
func (mp *MemoryProvider) Close() error {
	mp.closed.Store(true)
	return nil
}
