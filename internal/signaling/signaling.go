// Package signaling defines the narrow channel two peers negotiate through.
//
// A channel is backed by a shared call record: the caller writes the offer
// once, the callee writes the answer once, and each side appends ICE
// candidates to its own direction while consuming the other one.
package signaling

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrSessionNotFound is returned when a call record does not exist, has
	// no offer, or could not be reached after retries.
	ErrSessionNotFound = errors.New("call session not found")
	// ErrOfferAlreadySet is returned when a second offer is published.
	ErrOfferAlreadySet = errors.New("offer already set")
	// ErrAnswerAlreadySet is returned when a second answer is published.
	ErrAnswerAlreadySet = errors.New("answer already set")
	// ErrOfferMissing is returned when an answer is published before any offer.
	ErrOfferMissing = errors.New("offer not set")
)

// Direction names the producer of a candidate list.
type Direction string

const (
	// DirectionOffer candidates flow caller to callee.
	DirectionOffer Direction = "offer"
	// DirectionAnswer candidates flow callee to caller.
	DirectionAnswer Direction = "answer"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionOffer || d == DirectionAnswer
}

// Opposite returns the direction the other participant produces.
func (d Direction) Opposite() Direction {
	if d == DirectionOffer {
		return DirectionAnswer
	}
	return DirectionOffer
}

// Channel is the message-passing view of a shared call record.
//
// Subscriptions deliver at-least-once: the current state is replayed first
// and duplicates may follow. Returned channels are closed when ctx is done
// or the underlying stream ends.
type Channel interface {
	// CreateSession creates an empty call record and returns its id.
	CreateSession(ctx context.Context) (string, error)

	// PublishOffer sets the offer of a record that has none.
	PublishOffer(ctx context.Context, sessionID string, offer webrtc.SessionDescription) error

	// FetchOffer reads the offer once. A missing record or empty offer
	// yields ErrSessionNotFound.
	FetchOffer(ctx context.Context, sessionID string) (webrtc.SessionDescription, error)

	// PublishAnswer attaches the answer without touching the offer.
	PublishAnswer(ctx context.Context, sessionID string, answer webrtc.SessionDescription) error

	// AppendCandidate appends a candidate to the given direction.
	AppendCandidate(ctx context.Context, sessionID string, dir Direction, candidate webrtc.ICECandidateInit) error

	// SubscribeToAnswer streams non-empty answers of the record.
	SubscribeToAnswer(ctx context.Context, sessionID string) (<-chan webrtc.SessionDescription, error)

	// SubscribeToCandidates streams candidates appended to dir.
	SubscribeToCandidates(ctx context.Context, sessionID string, dir Direction) (<-chan webrtc.ICECandidateInit, error)
}
