package admission

import (
	"sync"

	"triplog/tracker-server/internal/model"
)

// State is the filtering memory of one device: the last few fixes seen and
// the most recently stored one. It is a value; Evaluate never mutates the
// State it was given.
type State struct {
	history   []model.Fix
	lastValid *model.Fix
}

// History returns a copy of the recently seen fixes, oldest first.
func (s State) History() []model.Fix {
	out := make([]model.Fix, len(s.history))
	copy(out, s.history)
	return out
}

// LastValid returns the most recently stored fix.
func (s State) LastValid() (model.Fix, bool) {
	if s.lastValid == nil {
		return model.Fix{}, false
	}
	return *s.lastValid, true
}

func (s State) observe(fix model.Fix, size int) State {
	start := 0
	if n := len(s.history) + 1; n > size {
		start = n - size
	}

	history := make([]model.Fix, 0, size)
	if start < len(s.history) {
		history = append(history, s.history[start:]...)
	}
	history = append(history, fix)

	return State{history: history, lastValid: s.lastValid}
}

// Registry keeps one State per device. Calls for the same device are
// serialised; different devices never block each other beyond map access.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*deviceSlot
}

type deviceSlot struct {
	mu      sync.Mutex
	state   State
	retired bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*deviceSlot)}
}

// Do runs fn with exclusive access to the device's state. The returned state
// is stored only when commit is true.
func (r *Registry) Do(deviceID string, fn func(State) (next State, commit bool)) {
	slot := r.lock(deviceID)
	defer slot.mu.Unlock()

	if next, commit := fn(slot.state); commit {
		slot.state = next
	}
}

// Snapshot returns the current state of a device.
func (r *Registry) Snapshot(deviceID string) State {
	slot := r.lock(deviceID)
	defer slot.mu.Unlock()
	return slot.state
}

// Reset forgets a device's filtering memory. It waits for an in-flight Do on
// the same device to finish.
func (r *Registry) Reset(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.devices[deviceID]
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.state = State{}
	slot.retired = true
	slot.mu.Unlock()
	delete(r.devices, deviceID)
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// lock returns the device's live slot with its mutex held. A caller that
// raced with Reset and locked a retired slot starts over.
func (r *Registry) lock(deviceID string) *deviceSlot {
	for {
		slot := r.slot(deviceID)
		slot.mu.Lock()
		if !slot.retired {
			return slot
		}
		slot.mu.Unlock()
	}
}

func (r *Registry) slot(deviceID string) *deviceSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.devices[deviceID]
	if !ok {
		slot = &deviceSlot{}
		r.devices[deviceID] = slot
	}
	return slot
}
