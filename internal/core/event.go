package core

import "github.com/vovakirdan/mindconnect-server/internal/store"

// EventKind is a change notification the hub fans out to subscribers.
type EventKind int

const (
	// EventCallUpdated carries the current state of a call session record.
	EventCallUpdated EventKind = iota
	// EventCandidateAdded carries one appended ICE candidate.
	EventCandidateAdded
	// EventChatMessage carries one posted chat message.
	EventChatMessage
)

func (k EventKind) String() string {
	switch k {
	case EventCallUpdated:
		return "call_updated"
	case EventCandidateAdded:
		return "candidate_added"
	case EventChatMessage:
		return "chat_message"
	default:
		return "unknown"
	}
}

// Event describes a record change on a topic.
type Event struct {
	Kind      EventKind
	Topic     string
	Call      *store.CallSession  // EventCallUpdated
	Candidate *store.IceCandidate // EventCandidateAdded
	Message   *store.ChatMessage  // EventChatMessage
}

// CallTopic is the topic carrying changes of one call session.
func CallTopic(callID string) string {
	return "call:" + callID
}

// ChatTopic is the topic carrying messages of one chat.
func ChatTopic(chatID string) string {
	return "chat:" + chatID
}
