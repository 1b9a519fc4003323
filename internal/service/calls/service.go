package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
	"github.com/vovakirdan/mindconnect-server/internal/store"
	"github.com/vovakirdan/mindconnect-server/internal/utils"
)

// Common errors for call operations.
var (
	ErrCallNotFound       = signaling.ErrSessionNotFound
	ErrOfferAlreadySet    = signaling.ErrOfferAlreadySet
	ErrAnswerAlreadySet   = signaling.ErrAnswerAlreadySet
	ErrOfferMissing       = signaling.ErrOfferMissing
	ErrInvalidDirection   = errors.New("invalid candidate direction")
	ErrInvalidDescription = errors.New("invalid session description")
	ErrInvalidCandidate   = errors.New("invalid ice candidate")
)

// Service manages call records used as signaling channels.
type Service struct {
	store store.CallStore
	hub   *core.Hub
	log   *zerolog.Logger
}

// New creates a new call service. hub may be nil when no change streams
// are needed.
func New(st store.CallStore, hub *core.Hub, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store: st,
		hub:   hub,
		log:   logger,
	}
}

// Create creates an empty call record owned by createdBy.
func (s *Service) Create(ctx context.Context, createdBy int64) (*store.CallSession, error) {
	call := &store.CallSession{
		ID:        utils.NewID(),
		CreatedBy: createdBy,
	}
	if err := s.store.CreateCallSession(ctx, call); err != nil {
		return nil, fmt.Errorf("create call session: %w", err)
	}

	created, err := s.store.GetCallSession(ctx, call.ID)
	if err != nil {
		return nil, fmt.Errorf("load call session: %w", err)
	}
	s.log.Info().Str("call_id", created.ID).Int64("created_by", createdBy).Msg("call session created")
	return created, nil
}

// Get retrieves a call record.
func (s *Service) Get(ctx context.Context, id string) (*store.CallSession, error) {
	call, err := s.store.GetCallSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("get call session: %w", err)
	}
	return call, nil
}

// PublishOffer sets the offer of a call that has none.
func (s *Service) PublishOffer(ctx context.Context, id string, offer store.Description) (*store.CallSession, error) {
	if offer.SDP == "" || offer.Type != webrtc.SDPTypeOffer.String() {
		return nil, ErrInvalidDescription
	}

	ok, err := s.store.SetOffer(ctx, id, offer)
	if err != nil {
		return nil, fmt.Errorf("set offer: %w", err)
	}
	call, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferAlreadySet
	}

	s.publishCall(call)
	s.log.Info().Str("call_id", id).Msg("offer published")
	return call, nil
}

// PublishAnswer attaches the answer of a call. The offer is never modified.
func (s *Service) PublishAnswer(ctx context.Context, id string, answer store.Description) (*store.CallSession, error) {
	if answer.SDP == "" || answer.Type != webrtc.SDPTypeAnswer.String() {
		return nil, ErrInvalidDescription
	}

	ok, err := s.store.SetAnswer(ctx, id, answer)
	if err != nil {
		return nil, fmt.Errorf("set answer: %w", err)
	}
	call, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if call.Offer.Empty() {
			return nil, ErrOfferMissing
		}
		return nil, ErrAnswerAlreadySet
	}

	s.publishCall(call)
	s.log.Info().Str("call_id", id).Msg("answer published")
	return call, nil
}

// AddCandidate appends a JSON encoded ICE candidate to one direction.
func (s *Service) AddCandidate(ctx context.Context, id string, dir store.CandidateDirection, payload string) (*store.IceCandidate, error) {
	if !dir.Valid() {
		return nil, ErrInvalidDirection
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &init); err != nil || init.Candidate == "" {
		return nil, ErrInvalidCandidate
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	cand := &store.IceCandidate{CallID: id, Direction: dir, Payload: payload}
	if err := s.store.AddCandidate(ctx, cand); err != nil {
		return nil, fmt.Errorf("add candidate: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(&core.Event{
			Kind:      core.EventCandidateAdded,
			Topic:     core.CallTopic(id),
			Candidate: cand,
		})
	}
	s.log.Debug().Str("call_id", id).Str("direction", string(dir)).Msg("candidate added")
	return cand, nil
}

// ListCandidates lists the candidates of one direction in insertion order.
func (s *Service) ListCandidates(ctx context.Context, id string, dir store.CandidateDirection) ([]*store.IceCandidate, error) {
	if !dir.Valid() {
		return nil, ErrInvalidDirection
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, id, dir)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return candidates, nil
}

// Watch streams the changes of a call. The current record and all stored
// candidates are replayed first, so delivery is at-least-once: consumers
// must tolerate duplicates. A watcher that falls behind the hub is
// resubscribed and gets the snapshot again instead of missing changes.
// The channel closes when ctx is done.
func (s *Service) Watch(ctx context.Context, id string) (<-chan *core.Event, error) {
	if s.hub == nil {
		return nil, errors.New("change streams disabled")
	}

	sub, snapshot, err := s.subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan *core.Event, len(snapshot)+1)
	for _, ev := range snapshot {
		out <- ev
	}

	go func() {
		defer close(out)
		for {
			lagged := s.forward(ctx, sub, out)
			s.hub.Unsubscribe(sub)
			if !lagged || ctx.Err() != nil {
				return
			}

			s.log.Warn().Str("call_id", id).Msg("call watcher lagged, replaying snapshot")
			sub, snapshot, err = s.subscribe(ctx, id)
			if err != nil {
				s.log.Error().Err(err).Str("call_id", id).Msg("resubscribe call watcher")
				return
			}
			for _, ev := range snapshot {
				select {
				case out <- ev:
				case <-ctx.Done():
					s.hub.Unsubscribe(sub)
					return
				}
			}
		}
	}()
	return out, nil
}

// subscribe registers on the call topic before taking the snapshot so no
// change falls in between.
func (s *Service) subscribe(ctx context.Context, id string) (*core.Subscriber, []*core.Event, error) {
	sub := s.hub.Subscribe(core.CallTopic(id))
	snapshot, err := s.snapshot(ctx, id)
	if err != nil {
		s.hub.Unsubscribe(sub)
		return nil, nil, err
	}
	return sub, snapshot, nil
}

// forward copies events from sub to out until ctx is done or sub closes.
// It reports whether sub was closed for lagging.
func (s *Service) forward(ctx context.Context, sub *core.Subscriber, out chan<- *core.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events:
			if !ok {
				return sub.Lagged()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (s *Service) snapshot(ctx context.Context, id string) ([]*core.Event, error) {
	call, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	topic := core.CallTopic(id)
	events := []*core.Event{{Kind: core.EventCallUpdated, Topic: topic, Call: call}}

	for _, dir := range []store.CandidateDirection{store.DirectionOffer, store.DirectionAnswer} {
		candidates, err := s.store.ListCandidates(ctx, id, dir)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		for _, c := range candidates {
			events = append(events, &core.Event{Kind: core.EventCandidateAdded, Topic: topic, Candidate: c})
		}
	}
	return events, nil
}

func (s *Service) publishCall(call *store.CallSession) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(&core.Event{
		Kind:  core.EventCallUpdated,
		Topic: core.CallTopic(call.ID),
		Call:  call,
	})
}
