// Package events fans hub changes out to the dashboard and the MQTT bridge.
package events

import (
	"log/slog"
	"sync"
)

// Event types.
const (
	DeviceAdded   = "device_added"
	DeviceUpdated = "device_updated"
	DeviceRemoved = "device_removed"
)

// Device is the hub's view of one scoreboard.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GameName string `json:"game_name"`
	Score    int    `json:"score"`
	Color    string `json:"color"`
}

// Event is one registry change. Removals carry only ID.
type Event struct {
	Type   string  `json:"type"`
	Device *Device `json:"device,omitempty"`
	ID     string  `json:"id,omitempty"`
}

// Added builds a device_added event.
func Added(d Device) Event { return Event{Type: DeviceAdded, Device: &d} }

// Updated builds a device_updated event.
func Updated(d Device) Event { return Event{Type: DeviceUpdated, Device: &d} }

// Removed builds a device_removed event.
func Removed(id string) Event { return Event{Type: DeviceRemoved, ID: id} }

// DeviceID returns the id the event refers to.
func (e Event) DeviceID() string {
	if e.Device != nil {
		return e.Device.ID
	}
	return e.ID
}

// Bus delivers every published event to every subscriber. A subscriber
// whose queue is full misses the event; Publish never blocks.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a queue of the given size. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish hands e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("[EVENTS] subscriber queue full, event dropped", "type", e.Type, "id", e.DeviceID())
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
