package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/utils"
)

// Hub fans out record change events to the subscribers of each topic.
// All topic bookkeeping happens on the Run goroutine.
type Hub struct {
	log        *zerolog.Logger
	register   chan *Subscriber
	unregister chan *Subscriber
	publish    chan *Event
	topics     map[string]*Topic
	done       chan struct{}
}

// NewHub creates a new hub instance. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:        logger,
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		publish:    make(chan *Event, 64),
		topics:     make(map[string]*Topic),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and publications until ctx is done.
// On exit every remaining subscriber channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			topic, ok := h.topics[sub.Topic]
			if !ok {
				topic = NewTopic(sub.Topic)
				h.topics[sub.Topic] = topic
			}
			topic.Add(sub)
			h.log.Debug().Str("topic", sub.Topic).Str("subscriber", sub.ID).Msg("subscribed")
		case sub := <-h.unregister:
			topic, ok := h.topics[sub.Topic]
			if !ok || !topic.Remove(sub) {
				continue
			}
			close(sub.Events)
			if topic.Empty() {
				delete(h.topics, sub.Topic)
			}
			h.log.Debug().Str("topic", sub.Topic).Str("subscriber", sub.ID).Msg("unsubscribed")
		case ev := <-h.publish:
			topic, ok := h.topics[ev.Topic]
			if !ok {
				continue
			}
			if evicted := topic.Broadcast(ev); evicted > 0 {
				h.log.Warn().
					Str("topic", ev.Topic).
					Str("kind", ev.Kind.String()).
					Int("evicted", evicted).
					Msg("slow subscribers evicted")
				if topic.Empty() {
					delete(h.topics, ev.Topic)
				}
			}
		}
	}
}

// Subscribe registers a subscriber for topic. If the hub has stopped, the
// returned subscriber's channel is already closed.
func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := NewSubscriber(utils.NewID(), topic)
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Events)
	}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish queues an event for delivery. Events published after the hub
// stopped are discarded.
func (h *Hub) Publish(ev *Event) {
	select {
	case h.publish <- ev:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	for name, topic := range h.topics {
		for sub := range topic.subscribers {
			close(sub.Events)
		}
		delete(h.topics, name)
	}
}
