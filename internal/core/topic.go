package core

// Topic groups subscribers listening to the same record stream.
type Topic struct {
	Name        string
	subscribers map[*Subscriber]struct{}
}

// NewTopic constructs a topic with no subscribers.
func NewTopic(name string) *Topic {
	return &Topic{
		Name:        name,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Add inserts a subscriber. Returns true if newly added.
func (t *Topic) Add(s *Subscriber) bool {
	if _, exists := t.subscribers[s]; exists {
		return false
	}
	t.subscribers[s] = struct{}{}
	return true
}

// Remove deletes a subscriber. Returns true if removed.
func (t *Topic) Remove(s *Subscriber) bool {
	if _, exists := t.subscribers[s]; !exists {
		return false
	}
	delete(t.subscribers, s)
	return true
}

// Broadcast sends an event to all subscribers. A subscriber whose buffer is
// full is removed and its channel closed with Lagged set, so it never misses
// events silently. Returns how many were evicted.
func (t *Topic) Broadcast(event *Event) int {
	evicted := 0
	for s := range t.subscribers {
		select {
		case s.Events <- event:
		default:
			delete(t.subscribers, s)
			s.lagged.Store(true)
			close(s.Events)
			evicted++
		}
	}
	return evicted
}

// Empty returns true if no subscribers remain.
func (t *Topic) Empty() bool {
	return len(t.subscribers) == 0
}
