// Package events carries monitor lifecycle notifications to in-process
// subscribers, primarily the SSE stream of the status API.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	TypeCycleStarted   EventType = "cycle_started"
	TypeCycleCompleted EventType = "cycle_completed"
	TypeIssuesFound    EventType = "issues_found"
	TypeSessionRestart EventType = "session_restart"
	TypeStateChanged   EventType = "state_changed"
)

// Event is one published notification.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Handler receives published events. Handlers must not block; slow consumers
// buffer on their own channels.
type Handler func(*Event)

// Bus is a simple fan-out event bus.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns an id for Unsubscribe.
func (b *Bus) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Publish delivers the event to every subscriber synchronously.
func (b *Bus) Publish(t EventType, data interface{}) {
	event := &Event{Type: t, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
