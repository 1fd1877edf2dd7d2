package hub

import (
	"sync"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
)

// DefaultGameName is shown until a device reports its game.
const DefaultGameName = "Unknown Game"

// Registry holds the connected devices in arrival order and publishes every
// change to the bus.
type Registry struct {
	bus *events.Bus

	mu      sync.Mutex
	devices map[string]*events.Device
	order   []string
}

// NewRegistry creates an empty registry publishing to bus.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		bus:     bus,
		devices: make(map[string]*events.Device),
	}
}

// Put adds or replaces a device. Colour is derived from the id when unset.
func (r *Registry) Put(d events.Device) events.Device {
	if d.Color == "" {
		d.Color = Color(d.ID)
	}
	if d.GameName == "" {
		d.GameName = DefaultGameName
	}

	r.mu.Lock()
	if _, ok := r.devices[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	stored := d
	r.devices[d.ID] = &stored
	r.mu.Unlock()

	r.bus.Publish(events.Added(d))
	return d
}

// Apply merges a device report. It reports false when the id is unknown.
// An unchanged device publishes nothing.
func (r *Registry) Apply(id string, rep protocol.Report) (events.Device, bool) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return events.Device{}, false
	}
	changed := d.Score != rep.Score
	d.Score = rep.Score
	if rep.GameName != nil && *rep.GameName != "" && *rep.GameName != d.GameName {
		d.GameName = *rep.GameName
		changed = true
	}
	snap := *d
	r.mu.Unlock()

	if changed {
		r.bus.Publish(events.Updated(snap))
	}
	return snap, true
}

// SetScore sets the score of a known device.
func (r *Registry) SetScore(id string, score int) (events.Device, bool) {
	return r.Apply(id, protocol.Report{Score: score})
}

// Remove deletes a device and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.bus.Publish(events.Removed(id))
	}
	return ok
}

// Get returns a copy of one device.
func (r *Registry) Get(id string) (events.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return events.Device{}, false
	}
	return *d, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns copies of all devices in arrival order.
func (r *Registry) List() []events.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.devices[id])
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
