// Package rtc wraps the WebRTC peer connection behind a small interface the
// call coordinator drives. Callbacks are surfaced as channels.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack describes a media track received from the other participant.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	Track    *webrtc.TrackRemote
}

// Peer is one side of a peer-to-peer media session.
type Peer interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// LocalCandidates streams candidates gathered after SetLocalDescription.
	// Closed when the peer is closed.
	LocalCandidates() <-chan webrtc.ICECandidateInit
	// RemoteTracks streams tracks announced by the other side.
	// Closed when the peer is closed.
	RemoteTracks() <-chan RemoteTrack

	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// Factory creates peers.
type Factory interface {
	NewPeer() (Peer, error)
}
