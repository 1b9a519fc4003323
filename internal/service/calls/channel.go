package calls

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// Channel adapts Service to signaling.Channel for participants running in
// the same process as the store.
type Channel struct {
	svc    *Service
	userID int64
}

// NewChannel returns a channel whose created sessions are owned by userID.
func NewChannel(svc *Service, userID int64) *Channel {
	return &Channel{svc: svc, userID: userID}
}

// ToDescription converts a negotiated description to its stored form.
func ToDescription(d webrtc.SessionDescription) store.Description {
	return store.Description{Type: d.Type.String(), SDP: d.SDP}
}

// FromDescription converts a stored description back.
func FromDescription(d *store.Description) webrtc.SessionDescription {
	if d == nil {
		return webrtc.SessionDescription{}
	}
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func (c *Channel) CreateSession(ctx context.Context) (string, error) {
	call, err := c.svc.Create(ctx, c.userID)
	if err != nil {
		return "", err
	}
	return call.ID, nil
}

func (c *Channel) PublishOffer(ctx context.Context, sessionID string, offer webrtc.SessionDescription) error {
	_, err := c.svc.PublishOffer(ctx, sessionID, ToDescription(offer))
	return err
}

func (c *Channel) FetchOffer(ctx context.Context, sessionID string) (webrtc.SessionDescription, error) {
	call, err := c.svc.Get(ctx, sessionID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if call.Offer.Empty() {
		return webrtc.SessionDescription{}, signaling.ErrSessionNotFound
	}
	return FromDescription(call.Offer), nil
}

func (c *Channel) PublishAnswer(ctx context.Context, sessionID string, answer webrtc.SessionDescription) error {
	_, err := c.svc.PublishAnswer(ctx, sessionID, ToDescription(answer))
	return err
}

func (c *Channel) AppendCandidate(ctx context.Context, sessionID string, dir signaling.Direction, candidate webrtc.ICECandidateInit) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	_, err = c.svc.AddCandidate(ctx, sessionID, store.CandidateDirection(dir), string(payload))
	return err
}

func (c *Channel) SubscribeToAnswer(ctx context.Context, sessionID string) (<-chan webrtc.SessionDescription, error) {
	events, err := c.svc.Watch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan webrtc.SessionDescription)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Kind != core.EventCallUpdated || ev.Call.Answer.Empty() {
				continue
			}
			select {
			case out <- FromDescription(ev.Call.Answer):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Channel) SubscribeToCandidates(ctx context.Context, sessionID string, dir signaling.Direction) (<-chan webrtc.ICECandidateInit, error) {
	events, err := c.svc.Watch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan webrtc.ICECandidateInit)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Kind != core.EventCandidateAdded || ev.Candidate.Direction != store.CandidateDirection(dir) {
				continue
			}
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(ev.Candidate.Payload), &init); err != nil {
				c.svc.log.Warn().Err(err).Str("call_id", sessionID).Msg("skipping malformed candidate")
				continue
			}
			select {
			case out <- init:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ signaling.Channel = (*Channel)(nil)
