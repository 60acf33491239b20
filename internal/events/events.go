package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTasksExpired  = "tasks_expired"
	EventUserBound     = "user_bound"
)

// TaskEventPayload is the minimal task snapshot for event consumers.
type TaskEventPayload struct {
	TaskID      string    `json:"task_id"`
	UserID      int64     `json:"user_id"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ExpiryEventPayload reports one expiry pass of the scanner.
type ExpiryEventPayload struct {
	Count  int64     `json:"count"`
	Cutoff time.Time `json:"cutoff"`
}

// Event is a lightweight in-process domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers synchronously; the caller owns the concurrency
// model and handler errors are deliberately ignored.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
