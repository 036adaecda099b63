package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventJobCreated    = "job_created"
	EventJobFinished   = "job_finished"
	EventTargetSettled = "target_settled"
	EventTargetPaused  = "target_paused"
	EventLedgerAlert   = "ledger_alert"
)

// JobEventPayload describes the minimal job snapshot for event consumers.
type JobEventPayload struct {
	JobID         string    `json:"job_id"`
	Kind          string    `json:"kind"`
	SourceAccount string    `json:"source_account"`
	SourceItemID  string    `json:"source_item_id"`
	Status        string    `json:"status"`
	TotalTargets  int       `json:"total_targets"`
	At            time.Time `json:"at"`
}

// TargetEventPayload describes one settled or paused destination.
type TargetEventPayload struct {
	JobID      string    `json:"job_id"`
	Account    string    `json:"account"`
	ItemID     string    `json:"item_id"`
	Status     string    `json:"status"`
	ProducedID string    `json:"produced_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	At         time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
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

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
