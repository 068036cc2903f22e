package view

import (
	"sync"
	"time"
)

type Phase int

const (
	PhaseUpdateStart Phase = iota
	PhaseBeforeCameraUpdate
	PhaseAfterCameraUpdate
	PhaseBeforeLayerUpdate
	PhaseAfterLayerUpdate
	PhaseBeforeRender
	PhaseAfterRender
	PhaseUpdateEnd
	// PhaseIdle fires once the scheduler runs out of work.
	PhaseIdle
	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseUpdateStart:
		return "update_start"
	case PhaseBeforeCameraUpdate:
		return "before_camera_update"
	case PhaseAfterCameraUpdate:
		return "after_camera_update"
	case PhaseBeforeLayerUpdate:
		return "before_layer_update"
	case PhaseAfterLayerUpdate:
		return "after_layer_update"
	case PhaseBeforeRender:
		return "before_render"
	case PhaseAfterRender:
		return "after_render"
	case PhaseUpdateEnd:
		return "update_end"
	case PhaseIdle:
		return "idle"
	default:
		return "unknown"
	}
}

type Event struct {
	Phase Phase     `json:"phase"`
	Time  time.Time `json:"time"`
	// Layer is set for the layer update phases.
	Layer string `json:"layer,omitempty"`
}

type Listener func(Event)

type Subscription struct {
	phase Phase
	id    uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Bus dispatches frame lifecycle events. Unsubscribe only queues the
// removal; Commit applies queued removals and is called by the loop
// between passes, so a listener may unsubscribe itself while being called.
type Bus struct {
	mu        sync.Mutex
	seq       uint64
	listeners [phaseCount][]listenerEntry
	removals  []Subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(phase Phase, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.listeners[phase] = append(b.listeners[phase], listenerEntry{id: b.seq, fn: fn})
	return Subscription{phase: phase, id: b.seq}
}

func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removals = append(b.removals, s)
}

// Commit applies the removals queued since the last call.
func (b *Bus) Commit() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, s := range b.removals {
		entries := b.listeners[s.phase]
		for i, e := range entries {
			if e.id == s.id {
				b.listeners[s.phase] = append(entries[:i:i], entries[i+1:]...)
				removed++
				break
			}
		}
	}
	b.removals = b.removals[:0]
	return removed
}

// Emit calls the listeners of e.Phase in subscription order.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	entries := b.listeners[e.Phase]
	b.mu.Unlock()

	for _, l := range entries {
		l.fn(e)
	}
}

// Count returns the number of listeners of phase, pending removals
// included.
func (b *Bus) Count(phase Phase) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners[phase])
}
