// Package events fans client state changes out to presentation code.
package events

import (
	"context"
	"sync"
	"time"
)

// Topic names a family of events.
type Topic string

const (
	// TopicSessionExpired is published once per transition into the expired session state.
	TopicSessionExpired Topic = "session-expired"
	// TopicRecordRefreshed is published when a background refresh produced a newer canonical record.
	TopicRecordRefreshed Topic = "record-refreshed"
	// TopicInteractionSettled is published when a server confirmed an optimistic mutation.
	TopicInteractionSettled Topic = "interaction-settled"
	// TopicInteractionRolledBack is published when an optimistic mutation was reverted.
	TopicInteractionRolledBack Topic = "interaction-rolled-back"

	defaultBufferSize = 16
)

// Event is a single notification. Payload carries topic-specific data.
type Event struct {
	Topic      Topic
	ResourceID string
	Message    string
	Payload    any
	Timestamp  time.Time
}

// Dispatcher delivers events to per-topic subscribers. Slow subscribers drop events.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[Topic]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for topic until ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, topic Topic) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(topic, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(topic, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers event to current subscribers of its topic without blocking.
func (d *Dispatcher) Publish(event Event) {
	if d == nil || event.Topic == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topic Topic, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregister(topic Topic, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
