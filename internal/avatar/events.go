package avatar

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle or transcript event emitted by a client.
type EventType string

const (
	EventAvatarStartTalking   EventType = "avatar_start_talking"
	EventAvatarStopTalking    EventType = "avatar_stop_talking"
	EventAvatarTalkingMessage EventType = "avatar_talking_message"
	EventAvatarEndMessage     EventType = "avatar_end_message"
	EventUserStart            EventType = "user_start"
	EventUserStop             EventType = "user_stop"
	EventUserSilence          EventType = "user_silence"
	EventUserTalkingMessage   EventType = "user_talking_message"
	EventUserEndMessage       EventType = "user_end_message"
	EventStreamReady          EventType = "stream_ready"
	EventStreamDisconnected   EventType = "stream_disconnected"
	EventConnectionQuality    EventType = "connection_quality_changed"
)

// Event is a single notification from the avatar service.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    string            `json:"task_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Quality   ConnectionQuality `json:"quality,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// Emitter keeps an ordered subscription list per event type. Handlers run
// synchronously, in registration order, on the emitting goroutine.
type Emitter struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[EventType][]subscription)}
}

// On registers h for t and returns a function that removes it.
func (e *Emitter) On(t EventType, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[EventType][]subscription)
	}
	e.nextID++
	id := e.nextID
	e.subs[t] = append(e.subs[t], subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { e.off(t, id) })
	}
}

func (e *Emitter) off(t EventType, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[t]
	for i, s := range list {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.subs, t)
		} else {
			e.subs[t] = next
		}
		return
	}
}

// Emit delivers ev to every handler registered for its type.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.mu.RLock()
	list := e.subs[ev.Type]
	handlers := make([]Handler, 0, len(list))
	for _, s := range list {
		handlers = append(handlers, s.h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Count reports the number of handlers registered for t.
func (e *Emitter) Count(t EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[t])
}

// Clear drops every subscription.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[EventType][]subscription)
}
