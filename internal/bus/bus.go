// Package bus carries control-path notifications between pipeline
// components. It is never used on the per-frame data path.
package bus

import (
	"sync"
	"time"
)

// EventType identifies an event.
type EventType string

const (
	// Tracking events
	EventTrackingStarted      EventType = "tracking.started"
	EventTrackingStopped      EventType = "tracking.stopped"
	EventTrackingStateChanged EventType = "tracking.state"

	// Audio events
	EventAudioStarted EventType = "audio.started"
	EventAudioStopped EventType = "audio.stopped"

	// Sensor events
	EventSensorUnavailable EventType = "sensor.unavailable"

	// Render events
	EventShaderReloaded EventType = "render.shader_reloaded"
)

// Event is one published notification.
type Event struct {
	Type      EventType
	Data      map[string]any
	Timestamp time.Time
}

// Handler handles events.
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// EventBus is a small pub/sub bus.
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]subscription
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type and returns a function that
// removes it.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, h: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeMultiple adds a handler for several event types.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) (unsubscribe func()) {
	cancels := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		cancels = append(cancels, b.Subscribe(et, handler))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Publish delivers the event to every handler on its own goroutine.
func (b *EventBus) Publish(event Event) {
	for _, h := range b.snapshot(&event) {
		go h(event)
	}
}

func (b *EventBus) snapshot(event *Event) []Handler {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.handlers[event.Type]
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.h
	}
	return handlers
}
