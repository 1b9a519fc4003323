package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func newAudioTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "test",
	)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	return track
}

func TestPionOfferAnswer(t *testing.T) {
	ctx := context.Background()
	factory, err := NewPionFactory(nil, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	caller, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("caller peer: %v", err)
	}
	defer caller.Close()
	callee, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("callee peer: %v", err)
	}
	defer callee.Close()

	if err := caller.AddTrack(newAudioTrack(t)); err != nil {
		t.Fatalf("add track: %v", err)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("unexpected offer: %s", offer.SDP)
	}
	if err := caller.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}

	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := callee.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || !strings.Contains(answer.SDP, "m=audio") {
		t.Fatalf("unexpected answer: %s", answer.SDP)
	}
	if err := callee.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}
}

func TestPionCloseIsIdempotent(t *testing.T) {
	factory, err := NewPionFactory([]string{"stun:stun.example.org:3478"}, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	peer, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("peer: %v", err)
	}

	if err := peer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := peer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if peer.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("expected closed state, got %s", peer.ConnectionState())
	}
	if _, ok := <-peer.LocalCandidates(); ok {
		t.Fatal("expected candidate channel to be closed")
	}
}

func TestCreateOfferHonoursContext(t *testing.T) {
	factory, err := NewPionFactory(nil, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	peer, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := peer.CreateOffer(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
