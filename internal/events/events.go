package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types observed by the UI and background triggers.
const (
	EventSyncStart       = "SYNC_START"
	EventSyncComplete    = "SYNC_COMPLETE"
	EventSyncError       = "SYNC_ERROR"
	EventOperationFailed = "OPERATION_FAILED"
	EventOnline          = "ONLINE"
	EventOffline         = "OFFLINE"
	EventQueueCleared    = "QUEUE_CLEARED"
	EventAuthRequired    = "AUTH_REQUIRED"
)

// Event is a lightweight queue-state notification. Only the fields relevant
// to the type are set.
type Event struct {
	Type         string    `json:"type"`
	OperationID  int64     `json:"operation_id,omitempty"`
	EntityType   string    `json:"entity_type,omitempty"`
	Action       string    `json:"action,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	SuccessCount int       `json:"success_count,omitempty"`
	ErrorCount   int       `json:"error_count,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Listener reacts to an event.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Bus provides in-process pub/sub for queue state changes. Listeners run
// synchronously in registration order; a panicking listener is isolated and
// never reaches the emitter or the remaining listeners.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
	logger    *zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// AddListener registers a callback and returns its unsubscribe function.
func (b *Bus) AddListener(fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.listeners {
			if sub.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Notify invokes all listeners synchronously.
func (b *Bus) Notify(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	listeners := append([]subscription(nil), b.listeners...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, sub := range listeners {
		b.invoke(sub.fn, event)
	}
}

func (b *Bus) invoke(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error().Interface("panic", r).Str("event", event.Type).Msg("event listener panicked")
		}
	}()
	fn(event)
}
