package avatar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversInRegistrationOrder(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On(EventUserStart, func(Event) { got = append(got, "a") })
	e.On(EventUserStart, func(Event) { got = append(got, "b") })
	e.On(EventUserStop, func(Event) { got = append(got, "other") })
	e.On(EventUserStart, func(Event) { got = append(got, "c") })

	e.Emit(Event{Type: EventUserStart})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter()
	var calls int
	off := e.On(EventAvatarStartTalking, func(Event) { calls++ })
	keep := e.On(EventAvatarStartTalking, func(Event) {})
	defer keep()

	e.Emit(Event{Type: EventAvatarStartTalking})
	off()
	off()
	e.Emit(Event{Type: EventAvatarStartTalking})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, e.Count(EventAvatarStartTalking))
}

func TestEmitterStampsTimestamp(t *testing.T) {
	e := NewEmitter()
	var ev Event
	e.On(EventStreamReady, func(got Event) { ev = got })
	e.Emit(Event{Type: EventStreamReady})
	require.False(t, ev.Timestamp.IsZero())
}

func TestEmitterHandlerMayUnsubscribeItself(t *testing.T) {
	e := NewEmitter()
	var calls int
	var off func()
	off = e.On(EventUserStop, func(Event) {
		calls++
		off()
	})
	e.Emit(Event{Type: EventUserStop})
	e.Emit(Event{Type: EventUserStop})
	assert.Equal(t, 1, calls)
}
