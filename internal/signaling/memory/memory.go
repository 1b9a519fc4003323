// Package memory is an in-process signaling.Channel used by tests and the
// single-binary demo. It enforces the same record invariants as the server.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/mindconnect-server/internal/signaling"
	"github.com/vovakirdan/mindconnect-server/internal/utils"
)

// ErrInjected is returned by operations armed with FailNext.
var ErrInjected = errors.New("injected signaling failure")

// Snapshot is a copy of a record's current state.
type Snapshot struct {
	Offer      *webrtc.SessionDescription
	Answer     *webrtc.SessionDescription
	Candidates map[signaling.Direction][]webrtc.ICECandidateInit
}

type session struct {
	offer      *webrtc.SessionDescription
	answer     *webrtc.SessionDescription
	candidates map[signaling.Direction][]webrtc.ICECandidateInit

	answerFeeds    map[*feed[webrtc.SessionDescription]]struct{}
	candidateFeeds map[signaling.Direction]map[*feed[webrtc.ICECandidateInit]]struct{}
}

func newSession() *session {
	return &session{
		candidates:  make(map[signaling.Direction][]webrtc.ICECandidateInit),
		answerFeeds: make(map[*feed[webrtc.SessionDescription]]struct{}),
		candidateFeeds: map[signaling.Direction]map[*feed[webrtc.ICECandidateInit]]struct{}{
			signaling.DirectionOffer:  {},
			signaling.DirectionAnswer: {},
		},
	}
}

// Channel is an in-memory signaling.Channel.
type Channel struct {
	mu       sync.Mutex
	sessions map[string]*session
	failures map[string]int
	failErrs map[string]error
}

// New creates an empty channel.
func New() *Channel {
	return &Channel{
		sessions: make(map[string]*session),
		failures: make(map[string]int),
		failErrs: make(map[string]error),
	}
}

// FailNext makes the next n calls of op ("create", "publish_offer",
// "fetch_offer", "publish_answer", "append_candidate") fail with ErrInjected.
func (c *Channel) FailNext(op string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = n
	delete(c.failErrs, op)
}

// FailNextWith is FailNext with a custom error in place of ErrInjected.
func (c *Channel) FailNextWith(op string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = n
	c.failErrs[op] = err
}

// consumeFailure must be called with c.mu held.
func (c *Channel) consumeFailure(op string) error {
	if c.failures[op] > 0 {
		c.failures[op]--
		if err, ok := c.failErrs[op]; ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

// CreateSession creates an empty record.
func (c *Channel) CreateSession(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFailure("create"); err != nil {
		return "", err
	}
	id := utils.NewID()
	c.sessions[id] = newSession()
	return id, nil
}

// PublishOffer sets the offer once.
func (c *Channel) PublishOffer(_ context.Context, sessionID string, offer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFailure("publish_offer"); err != nil {
		return err
	}
	s, ok := c.sessions[sessionID]
	if !ok {
		return signaling.ErrSessionNotFound
	}
	if s.offer != nil {
		return signaling.ErrOfferAlreadySet
	}
	s.offer = &offer
	return nil
}

// FetchOffer returns the offer of an existing record.
func (c *Channel) FetchOffer(_ context.Context, sessionID string) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFailure("fetch_offer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	s, ok := c.sessions[sessionID]
	if !ok || s.offer == nil || s.offer.SDP == "" {
		return webrtc.SessionDescription{}, signaling.ErrSessionNotFound
	}
	return *s.offer, nil
}

// PublishAnswer sets the answer once, leaving the offer untouched.
func (c *Channel) PublishAnswer(_ context.Context, sessionID string, answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFailure("publish_answer"); err != nil {
		return err
	}
	s, ok := c.sessions[sessionID]
	if !ok {
		return signaling.ErrSessionNotFound
	}
	if s.offer == nil || s.offer.SDP == "" {
		return signaling.ErrOfferMissing
	}
	if s.answer != nil {
		return signaling.ErrAnswerAlreadySet
	}
	s.answer = &answer
	for f := range s.answerFeeds {
		f.push(answer)
	}
	return nil
}

// AppendCandidate appends to one direction of the record.
func (c *Channel) AppendCandidate(_ context.Context, sessionID string, dir signaling.Direction, candidate webrtc.ICECandidateInit) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %q", dir)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFailure("append_candidate"); err != nil {
		return err
	}
	s, ok := c.sessions[sessionID]
	if !ok {
		return signaling.ErrSessionNotFound
	}
	s.candidates[dir] = append(s.candidates[dir], candidate)
	for f := range s.candidateFeeds[dir] {
		f.push(candidate)
	}
	return nil
}

// SubscribeToAnswer replays the current answer, if any, then streams new ones.
func (c *Channel) SubscribeToAnswer(ctx context.Context, sessionID string) (<-chan webrtc.SessionDescription, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, signaling.ErrSessionNotFound
	}
	f := newFeed[webrtc.SessionDescription]()
	if s.answer != nil {
		f.push(*s.answer)
	}
	s.answerFeeds[f] = struct{}{}
	c.mu.Unlock()

	out := make(chan webrtc.SessionDescription)
	go func() {
		f.run(ctx, out)
		c.mu.Lock()
		delete(s.answerFeeds, f)
		c.mu.Unlock()
	}()
	return out, nil
}

// SubscribeToCandidates replays the candidates of dir, then streams new ones.
func (c *Channel) SubscribeToCandidates(ctx context.Context, sessionID string, dir signaling.Direction) (<-chan webrtc.ICECandidateInit, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("invalid direction %q", dir)
	}
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, signaling.ErrSessionNotFound
	}
	f := newFeed[webrtc.ICECandidateInit]()
	for _, cand := range s.candidates[dir] {
		f.push(cand)
	}
	s.candidateFeeds[dir][f] = struct{}{}
	c.mu.Unlock()

	out := make(chan webrtc.ICECandidateInit)
	go func() {
		f.run(ctx, out)
		c.mu.Lock()
		delete(s.candidateFeeds[dir], f)
		c.mu.Unlock()
	}()
	return out, nil
}

// Echo redelivers the current answer and every candidate to all open
// subscriptions of a record, the way a store echoes a merged write.
func (c *Channel) Echo(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	if s.answer != nil {
		for f := range s.answerFeeds {
			f.push(*s.answer)
		}
	}
	for dir, feeds := range s.candidateFeeds {
		for f := range feeds {
			for _, cand := range s.candidates[dir] {
				f.push(cand)
			}
		}
	}
}

// Snapshot returns a copy of a record, or false if it does not exist.
func (c *Channel) Snapshot(sessionID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{Candidates: make(map[signaling.Direction][]webrtc.ICECandidateInit)}
	if s.offer != nil {
		offer := *s.offer
		snap.Offer = &offer
	}
	if s.answer != nil {
		answer := *s.answer
		snap.Answer = &answer
	}
	for dir, list := range s.candidates {
		snap.Candidates[dir] = append([]webrtc.ICECandidateInit(nil), list...)
	}
	return snap, true
}

// Subscribers reports how many subscriptions are open on a record.
func (c *Channel) Subscribers(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return 0
	}
	n := len(s.answerFeeds)
	for _, feeds := range s.candidateFeeds {
		n += len(feeds)
	}
	return n
}

// Len reports how many records exist.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Put inserts a record with the given offer, for seeding tests. An empty
// SDP stores an empty offer.
func (c *Channel) Put(sessionID string, offer *webrtc.SessionDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newSession()
	s.offer = offer
	c.sessions[sessionID] = s
}

var _ signaling.Channel = (*Channel)(nil)
