// Package events implements the in-process fan-out bus used by the adapter.
package events

import (
	"sync"
)

// Topic names one adapter event stream.
type Topic string

const (
	// TopicFill delivers schema.FillRecord values from the private stream.
	TopicFill Topic = "fill"
	// TopicError delivers error strings from bootstrap, tick, and dispatch paths.
	TopicError Topic = "error"
	// TopicInfo delivers informational strings.
	TopicInfo Topic = "info"
	// TopicOrderManager delivers the dispatch queue depth after each transition.
	TopicOrderManager Topic = "orderManager"
	// TopicBatchResolved delivers []schema.BatchOutcome per dispatched lot.
	TopicBatchResolved Topic = "batchResolved"
	// TopicPositionUpdate delivers raw ACCOUNT_UPDATE position slots.
	TopicPositionUpdate Topic = "positionUpdate"
)

// Event pairs a topic with its payload.
type Event struct {
	Topic   Topic
	Payload any
}

type subscriber struct {
	id int
	ch chan Event
}

// Emitter fans events out to per-topic subscribers. Delivery is non-blocking;
// a subscriber that falls behind loses events rather than stalling the adapter.
type Emitter struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic][]subscriber
	closed bool
}

// NewEmitter constructs an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[Topic][]subscriber)}
}

// Subscribe registers a buffered listener for the topic. The returned cancel
// function removes the subscription and closes the channel.
func (e *Emitter) Subscribe(topic Topic, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	e.nextID++
	sub := subscriber{id: e.nextID, ch: ch}
	e.subs[topic] = append(e.subs[topic], sub)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		list := e.subs[topic]
		for i, s := range list {
			if s.id == sub.id {
				e.subs[topic] = append(list[:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return ch, cancel
}

// Emit delivers the payload to every subscriber of the topic.
func (e *Emitter) Emit(topic Topic, payload any) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	list := make([]subscriber, len(e.subs[topic]))
	copy(list, e.subs[topic])
	e.mu.Unlock()

	evt := Event{Topic: topic, Payload: payload}
	for _, sub := range list {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Close shuts the emitter down and closes every subscriber channel. Idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for topic, list := range e.subs {
		for _, sub := range list {
			close(sub.ch)
		}
		delete(e.subs, topic)
	}
}
