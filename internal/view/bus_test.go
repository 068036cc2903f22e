package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusDefersRemovalUntilCommit(t *testing.T) {
	bus := NewBus()
	calls := 0
	var sub Subscription
	sub = bus.Subscribe(PhaseUpdateStart, func(Event) {
		calls++
		bus.Unsubscribe(sub)
	})

	bus.Emit(Event{Phase: PhaseUpdateStart, Time: time.Now()})
	bus.Emit(Event{Phase: PhaseUpdateStart, Time: time.Now()})
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, bus.Count(PhaseUpdateStart))

	assert.Equal(t, 1, bus.Commit())
	bus.Emit(Event{Phase: PhaseUpdateStart, Time: time.Now()})
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, bus.Count(PhaseUpdateStart))
}

func TestBusPhasesAreIndependent(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(PhaseBeforeRender, func(Event) { order = append(order, "a") })
	bus.Subscribe(PhaseBeforeRender, func(Event) { order = append(order, "b") })
	keep := bus.Subscribe(PhaseAfterRender, func(Event) { order = append(order, "after") })

	bus.Emit(Event{Phase: PhaseBeforeRender})
	assert.Equal(t, []string{"a", "b"}, order)

	bus.Unsubscribe(Subscription{phase: PhaseBeforeRender, id: keep.id})
	assert.Equal(t, 0, bus.Commit())
	bus.Emit(Event{Phase: PhaseAfterRender})
	assert.Equal(t, []string{"a", "b", "after"}, order)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "before_layer_update", PhaseBeforeLayerUpdate.String())
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "unknown", phaseCount.String())
}
