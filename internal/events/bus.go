package events

import (
	"sync"
	"time"
)

// EventType labels pipeline events published on the bus.
type EventType string

const (
	EventBarRejected      EventType = "BAR_REJECTED"
	EventPhaseTransition  EventType = "PHASE_TRANSITION"
	EventRangeFormed      EventType = "RANGE_FORMED"
	EventRangeInvalidated EventType = "RANGE_INVALIDATED"
	EventPatternDetected  EventType = "PATTERN_DETECTED"
	EventSignalApproved   EventType = "SIGNAL_APPROVED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventCampaignOpened   EventType = "CAMPAIGN_OPENED"
	EventCampaignClosed   EventType = "CAMPAIGN_CLOSED"
	EventWorkerFailed     EventType = "WORKER_FAILED"
)

// Event is one published pipeline event.
type Event struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles published events. Subscribers must not block.
type Subscriber func(Event)

// Bus fans pipeline events out to subscribers: the websocket hub, the audit
// recorder, and metrics all listen here.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to its type's subscribers and all wildcard
// subscribers, synchronously in registration order.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	typed := b.subscribers[event.Type]
	wildcard := b.allSubs
	b.mu.RUnlock()

	for _, sub := range typed {
		sub(event)
	}
	for _, sub := range wildcard {
		sub(event)
	}
}
