// Package events provides append-only emission of domain events. The engines
// write events here for external observers; nothing in the core ever reads
// its own events back to make decisions.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies a domain event.
type Type string

const (
	UserRegistered          Type = "user.registered"
	TransferInitiated       Type = "transfer.initiated"
	TransferClaimed         Type = "transfer.claimed"
	TransferRefunded        Type = "transfer.refunded"
	GroupPaymentCreated     Type = "group_payment.created"
	GroupPaymentContributed Type = "group_payment.contributed"
	GroupPaymentCompleted   Type = "group_payment.completed"
)

// Event records one accepted command against a record.
type Event struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	Actor        string            `json:"actor,omitempty"`
	Counterparty string            `json:"counterparty,omitempty"`
	RecordKey    string            `json:"record_key,omitempty"`
	Amount       uint64            `json:"amount,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be processed.
type Filter func(Event) bool

// Notifier is the interface the engines emit through.
type Notifier interface {
	// Log records an event.
	Log(event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler Handler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter Filter, handler Handler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType Type, n int) []Event

	// RecentByActor returns recent events initiated by a specific address.
	RecentByActor(actor string, n int) []Event
}

// RingBuffer is a thread-safe circular buffer of events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Notifier = (*RingBuffer)(nil)

// NewRingBuffer creates an event buffer holding the most recent size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies subscribers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	// Return unsubscribe function
	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType Type, n int) []Event {
	return rb.recentMatching(n, func(e Event) bool { return e.Type == eventType })
}

// RecentByActor returns recent events initiated by a specific address.
func (rb *RingBuffer) RecentByActor(actor string, n int) []Event {
	return rb.recentMatching(n, func(e Event) bool { return e.Actor == actor })
}

func (rb *RingBuffer) recentMatching(n int, match func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

func (NoopNotifier) Log(Event)                                {}
func (NoopNotifier) Subscribe(Handler) func()                 { return func() {} }
func (NoopNotifier) SubscribeFiltered(Filter, Handler) func() { return func() {} }
func (NoopNotifier) Recent(int) []Event                       { return nil }
func (NoopNotifier) RecentByType(Type, int) []Event           { return nil }
func (NoopNotifier) RecentByActor(string, int) []Event        { return nil }
