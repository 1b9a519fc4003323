package http

import (
	"encoding/json"

	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/proto"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

func descriptionToProto(d *store.Description) *proto.Description {
	if d.Empty() {
		return nil
	}
	return &proto.Description{Type: d.Type, SDP: d.SDP}
}

func callToProto(c *store.CallSession) proto.Call {
	return proto.Call{
		ID:        c.ID,
		CreatedBy: c.CreatedBy,
		Offer:     descriptionToProto(c.Offer),
		Answer:    descriptionToProto(c.Answer),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func candidateToProto(c *store.IceCandidate) proto.Candidate {
	return proto.Candidate{
		ID:        c.ID,
		CallID:    c.CallID,
		Direction: string(c.Direction),
		Candidate: json.RawMessage(c.Payload),
		CreatedAt: c.CreatedAt,
	}
}

func messageToProto(m *store.ChatMessage) proto.ChatMessage {
	return proto.ChatMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Sender:    m.Sender,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventCallUpdated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventCallUpdated,
			Data:  callToProto(event.Call),
		}
	case core.EventCandidateAdded:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventCandidateAdded,
			Data:  candidateToProto(event.Candidate),
		}
	case core.EventChatMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChatMessage,
			Data:  messageToProto(event.Message),
		}
	default:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "unknown_event", Msg: event.Kind.String()},
		}
	}
}
