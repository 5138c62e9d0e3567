package core

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"bastion/util/goroutine"
)

// Domain event topics emitted by the pipeline. External collaborators
// (REST layer, realtime relay) subscribe to these; the core does not know
// how they are relayed further.
const (
	TopicThreatCreated          = "threat.created"
	TopicThreatStatusChanged    = "threat.status_changed"
	TopicNotificationCreated    = "notification.created"
	TopicNotificationDelivered  = "notification.delivered"
	TopicNotificationFailed     = "notification.failed"
	TopicNotificationCancelled  = "notification.cancelled"
)

// DomainEvent is one emitted fact about a state change in the core.
type DomainEvent struct {
	Topic     string      `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// EventHandler consumes domain events. Handlers run on their own goroutine
// and must not assume ordering across topics.
type EventHandler func(DomainEvent)

// EventBus fans domain events out to subscribed handlers. Publish never
// blocks the pipeline: each handler runs asynchronously with panic
// recovery, so a misbehaving subscriber cannot stall detection or dispatch.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *zap.SugaredLogger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic.
func (b *EventBus) Subscribe(topic string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish emits an event to all handlers subscribed to its topic.
func (b *EventBus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	evt := DomainEvent{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	for _, h := range handlers {
		handler := h
		go func() {
			defer goroutine.Recover("event-bus-"+topic, b.logger)
			handler(evt)
		}()
	}
}
