package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventUpdatePersisted EventType = "update.persisted"
	EventPackCreated     EventType = "pack.created"
	EventSnapshotCreated EventType = "snapshot.created"
	EventGCCompleted     EventType = "gc.completed"
	EventNoteChanged     EventType = "note.changed"
	EventFolderChanged   EventType = "folder.changed"
)

// Origin tags whether an update event was produced locally or read from
// another instance's files.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event represents an engine event
type Event struct {
	Type      EventType
	Timestamp time.Time
	SDID      string
	NoteID    string
	Origin    Origin
	Bytes     []byte
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.distribute(event)
		case <-b.stopCh:
			return
		}
	}
}

// distribute sends an event to all subscribers, dropping it for slow ones
// rather than blocking the loop.
func (b *Broker) distribute(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
