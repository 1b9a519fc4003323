package core

import "sync/atomic"

// subscriberBuffer bounds how far a subscriber may lag before it is evicted.
const subscriberBuffer = 256

// Subscriber receives the events of a single topic.
// Events is closed when the subscriber is unsubscribed, evicted for lagging,
// or the hub stops.
type Subscriber struct {
	ID     string
	Topic  string
	Events chan *Event

	lagged atomic.Bool
}

// NewSubscriber constructs a subscriber with a buffered event channel.
func NewSubscriber(id, topic string) *Subscriber {
	return &Subscriber{
		ID:     id,
		Topic:  topic,
		Events: make(chan *Event, subscriberBuffer),
	}
}

// Lagged reports whether Events was closed because the subscriber fell
// behind. Events may have been missed; resubscribe and reload state.
func (s *Subscriber) Lagged() bool {
	return s.lagged.Load()
}
