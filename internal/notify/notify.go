// Package notify implements the job lifecycle event bus (spec.md §11, C12):
// an in-process publisher that fans out JobSubmitted/JobCompleted events to
// the WebSocket hub and, optionally, to a Kafka topic for external
// consumers. Grounded on the teacher's pkg/eventbus package (the
// Publisher/Subscriber split in pkg/eventbus/interface.go and the
// channel-fan-out shape of pkg/eventbus/local.go), narrowed from the
// teacher's generic blockchain-event bus to the one event family this
// service emits. Publishing never fails a job: a Bus is a writeOrWarn-class
// observer, not a §4.4 sink.
package notify

import (
	"sync"
	"time"
)

// EventType enumerates the job lifecycle transitions this bus publishes.
type EventType string

const (
	EventJobSubmitted EventType = "JobSubmitted"
	EventJobCompleted EventType = "JobCompleted"
)

// Event is one job lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"jobId"`
	ChainID    string    `json:"chainId"`
	Address    string    `json:"address"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Bus is the interface the job engine and the API layer share: the engine
// only ever calls Publish, the API layer (WebSocket hub, and any remote
// fan-out) only ever calls Subscribe/Unsubscribe.
type Bus interface {
	// Publish fans event out to every live subscription. Never blocks: a
	// subscriber whose channel is full misses the event (mirrors the
	// teacher's LocalEventBus drop-on-full behavior).
	Publish(event Event)

	// Subscribe registers a new channel of the given buffer size and
	// returns it along with an unsubscribe func the caller must call
	// exactly once.
	Subscribe(bufferSize int) (<-chan Event, func())

	// SubscriberCount reports the number of live subscriptions.
	SubscriberCount() int

	// Close releases any background resources (e.g. a Kafka writer).
	Close() error
}

// LocalBus is an in-process Bus backed by per-subscriber buffered
// channels, equivalent in shape to the teacher's LocalEventBus but
// stripped of the blockchain-specific filter/history machinery that
// pkg/eventbus/local.go carries.
type LocalBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus constructs an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[int]chan Event)}
}

// Publish implements Bus.
func (b *LocalBus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than block the publisher,
			// matching the teacher's local bus drop-on-full policy.
		}
	}
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// SubscriberCount implements Bus.
func (b *LocalBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close implements Bus; a LocalBus owns no background resources.
func (b *LocalBus) Close() error { return nil }
