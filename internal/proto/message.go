package proto

import (
	"encoding/json"
	"time"
)

const (
	ProtocolVersion = 1

	InboundTypeMsg = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventCallUpdated    = "call_updated"
	EventCandidateAdded = "candidate_added"
	EventChatMessage    = "chat_message"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MsgData is a chat message sent over a chat stream.
type MsgData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Envelope is Outbound as seen by a decoding client.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Description is a session description on the wire. It matches the JSON
// form of RTCSessionDescription.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Call is a call record on the wire.
type Call struct {
	ID        string       `json:"id"`
	CreatedBy int64        `json:"created_by"`
	Offer     *Description `json:"offer"`
	Answer    *Description `json:"answer"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Candidate is an ICE candidate entry on the wire. Candidate holds the
// RTCIceCandidateInit JSON unchanged.
type Candidate struct {
	ID        int64           `json:"id"`
	CallID    string          `json:"call_id"`
	Direction string          `json:"direction"`
	Candidate json.RawMessage `json:"candidate"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChatMessage is a chat message on the wire.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
