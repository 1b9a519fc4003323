package call

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/mindconnect-server/internal/media"
	"github.com/vovakirdan/mindconnect-server/internal/rtc"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
	"github.com/vovakirdan/mindconnect-server/internal/signaling/memory"
)

var remoteAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-test"}

// rejectedError is a failure the server will repeat, like a 401.
type rejectedError struct{}

func (rejectedError) Error() string   { return "request rejected" }
func (rejectedError) Retryable() bool { return false }

func TestStartCallPublishesOfferWithoutAnswer(t *testing.T) {
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch, "c1", "c2")

	id, err := caller.coord.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if id == "" || caller.coord.SessionID() != id {
		t.Fatalf("unexpected session id %q", id)
	}

	snap, ok := ch.Snapshot(id)
	if !ok {
		t.Fatal("call record not created")
	}
	if snap.Offer == nil || snap.Offer.SDP == "" {
		t.Fatal("expected offer to be set")
	}
	if snap.Answer != nil {
		t.Fatalf("expected no answer, got %+v", snap.Answer)
	}
	if got := caller.coord.State(); got != StateAwaitingRemote {
		t.Fatalf("expected awaiting_remote, got %s", got)
	}

	waitFor(t, "local candidates published", func() bool {
		snap, _ := ch.Snapshot(id)
		return len(snap.Candidates[signaling.DirectionOffer]) == 2
	})
	snap, _ = ch.Snapshot(id)
	if len(snap.Candidates[signaling.DirectionAnswer]) != 0 {
		t.Fatal("caller must not write to the answer direction")
	}
}

func TestJoinCallUnknownSession(t *testing.T) {
	ch := memory.New()
	callee := newParticipant(t, RoleCallee, ch)

	err := callee.coord.JoinCall(context.Background(), "doesnotexist")
	if !errors.Is(err, signaling.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if callee.devices.Acquired() != 0 {
		t.Fatalf("no media may be acquired, got %d streams", callee.devices.Acquired())
	}
	if got := callee.coord.State(); got != StateIdle {
		t.Fatalf("expected idle after failed join, got %s", got)
	}
}

func TestJoinCallEmptyOffer(t *testing.T) {
	ch := memory.New()
	ch.Put("no-offer", nil)
	ch.Put("blank-offer", &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})

	for _, id := range []string{"no-offer", "blank-offer"} {
		t.Run(id, func(t *testing.T) {
			callee := newParticipant(t, RoleCallee, ch)
			err := callee.coord.JoinCall(context.Background(), id)
			if !errors.Is(err, signaling.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			if callee.devices.Open() != 0 {
				t.Fatal("media left open after failed join")
			}
		})
	}
}

func TestCallerAndCalleeNegotiate(t *testing.T) {
	ctx := context.Background()
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch, "caller-a", "caller-b")
	callee := newParticipant(t, RoleCallee, ch, "callee-a")

	id, err := caller.coord.StartCall(ctx)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	before, _ := ch.Snapshot(id)

	if err := callee.coord.JoinCall(ctx, id); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if got := callee.coord.State(); got != StateConnected {
		t.Fatalf("callee: expected connected, got %s", got)
	}

	waitFor(t, "caller connected", func() bool { return caller.coord.State() == StateConnected })

	after, _ := ch.Snapshot(id)
	if after.Offer == nil || after.Answer == nil {
		t.Fatal("expected both offer and answer")
	}
	if *after.Offer != *before.Offer {
		t.Fatalf("offer changed by join: %+v -> %+v", before.Offer, after.Offer)
	}

	waitFor(t, "callee applied caller candidates", func() bool {
		return reflect.DeepEqual(callee.peers.last().addedCandidates(), []string{"caller-a", "caller-b"})
	})
	waitFor(t, "caller applied callee candidates", func() bool {
		return reflect.DeepEqual(caller.peers.last().addedCandidates(), []string{"callee-a"})
	})
}

func TestRepeatedAnswerAppliedOnce(t *testing.T) {
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch)

	id, err := caller.coord.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := ch.PublishAnswer(context.Background(), id, remoteAnswer); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	waitFor(t, "caller connected", func() bool { return caller.coord.State() == StateConnected })

	ch.Echo(id)
	ch.Echo(id)
	time.Sleep(50 * time.Millisecond)

	if n := caller.peers.last().remoteCalls(); n != 1 {
		t.Fatalf("expected exactly one SetRemoteDescription, got %d", n)
	}
}

func TestEndCallIdempotent(t *testing.T) {
	ch := memory.New()

	t.Run("never started", func(t *testing.T) {
		p := newParticipant(t, RoleCaller, ch)
		if err := p.coord.EndCall(); err != nil {
			t.Fatalf("EndCall: %v", err)
		}
		if err := p.coord.EndCall(); err != nil {
			t.Fatalf("second EndCall: %v", err)
		}
		if p.coord.State() != StateEnded {
			t.Fatalf("expected ended, got %s", p.coord.State())
		}
	})

	t.Run("before answer", func(t *testing.T) {
		p := newParticipant(t, RoleCaller, ch, "c1")
		id, err := p.coord.StartCall(context.Background())
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		peer := p.peers.last()

		if err := p.coord.EndCall(); err != nil {
			t.Fatalf("EndCall: %v", err)
		}
		if err := p.coord.EndCall(); err != nil {
			t.Fatalf("second EndCall: %v", err)
		}

		if p.devices.Open() != 0 {
			t.Fatal("local media not released")
		}
		if !peer.isClosed() {
			t.Fatal("peer not closed")
		}
		if p.coord.State() != StateEnded {
			t.Fatalf("expected ended, got %s", p.coord.State())
		}
		if len(p.coord.RemoteTracks()) != 0 {
			t.Fatal("remote tracks not cleared")
		}
		waitFor(t, "subscriptions released", func() bool { return ch.Subscribers(id) == 0 })
	})
}

func TestCandidateOrderIndependence(t *testing.T) {
	apply := func(t *testing.T, order []string, beforeAnswer bool) []string {
		ch := memory.New()
		caller := newParticipant(t, RoleCaller, ch)
		ctx := context.Background()

		id, err := caller.coord.StartCall(ctx)
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		if !beforeAnswer {
			if err := ch.PublishAnswer(ctx, id, remoteAnswer); err != nil {
				t.Fatalf("PublishAnswer: %v", err)
			}
		}
		for _, c := range candidates(order...) {
			if err := ch.AppendCandidate(ctx, id, signaling.DirectionAnswer, c); err != nil {
				t.Fatalf("AppendCandidate: %v", err)
			}
		}
		ch.Echo(id)
		if beforeAnswer {
			time.Sleep(20 * time.Millisecond)
			if err := ch.PublishAnswer(ctx, id, remoteAnswer); err != nil {
				t.Fatalf("PublishAnswer: %v", err)
			}
		}

		peer := caller.peers.last()
		waitFor(t, "candidates applied", func() bool { return len(peer.addedCandidates()) >= len(order) })
		time.Sleep(20 * time.Millisecond)
		return peer.addedCandidates()
	}

	want := []string{"C1", "C2", "C3"}
	inOrder := apply(t, []string{"C1", "C2", "C3"}, false)
	shuffled := apply(t, []string{"C2", "C1", "C3"}, false)
	queued := apply(t, []string{"C3", "C2", "C1"}, true)

	for name, got := range map[string][]string{"in order": inOrder, "shuffled": shuffled, "queued": queued} {
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func TestFailedCandidateRetriedOnRedelivery(t *testing.T) {
	ctx := context.Background()
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch)

	id, err := caller.coord.StartCall(ctx)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := ch.PublishAnswer(ctx, id, remoteAnswer); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	peer := caller.peers.last()
	waitFor(t, "answer applied", func() bool { return peer.remoteCalls() == 1 })

	peer.failNextAdds(1)
	if err := ch.AppendCandidate(ctx, id, signaling.DirectionAnswer, candidates("C1")[0]); err != nil {
		t.Fatalf("AppendCandidate: %v", err)
	}
	waitFor(t, "failed add consumed", func() bool {
		peer.mu.Lock()
		defer peer.mu.Unlock()
		return peer.failAdds == 0
	})
	if got := peer.addedCandidates(); len(got) != 0 {
		t.Fatalf("candidate applied despite failure: %v", got)
	}

	ch.Echo(id)
	waitFor(t, "candidate applied on redelivery", func() bool { return len(peer.addedCandidates()) == 1 })

	ch.Echo(id)
	time.Sleep(20 * time.Millisecond)
	if got := peer.addedCandidates(); !reflect.DeepEqual(got, []string{"C1"}) {
		t.Fatalf("expected C1 once, got %v", got)
	}
}

func TestToggleMicLeavesCameraAlone(t *testing.T) {
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch)

	if caller.coord.ToggleMic() {
		t.Fatal("toggle without a track must report false")
	}

	if _, err := caller.coord.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	if got := caller.coord.ToggleMic(); got != false {
		t.Fatalf("first toggle: expected false, got %v", got)
	}
	if !caller.coord.CameraEnabled() {
		t.Fatal("camera affected by mic toggle")
	}
	if got := caller.coord.ToggleMic(); got != true {
		t.Fatalf("second toggle: expected true, got %v", got)
	}
	if !caller.coord.CameraEnabled() {
		t.Fatal("camera affected by mic toggle")
	}

	if got := caller.coord.ToggleCamera(); got != false {
		t.Fatalf("camera toggle: expected false, got %v", got)
	}
	if !caller.coord.MicEnabled() {
		t.Fatal("mic affected by camera toggle")
	}
}

func TestToggleWithoutVideoTrack(t *testing.T) {
	ch := memory.New()
	coord := New(Options{
		Role:        RoleCaller,
		Channel:     ch,
		Devices:     media.NewVirtualDevices(),
		Peers:       &fakeFactory{name: "audio-only"},
		Constraints: media.Constraints{Audio: true},
	})
	defer coord.EndCall()

	if _, err := coord.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if coord.ToggleCamera() {
		t.Fatal("expected false for missing video track")
	}
	if !coord.MicEnabled() {
		t.Fatal("mic affected by camera toggle")
	}
}

func TestMediaAccessDenied(t *testing.T) {
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch)
	caller.devices.Deny(true)

	_, err := caller.coord.StartCall(context.Background())
	if !errors.Is(err, ErrMediaAccessDenied) || !errors.Is(err, media.ErrAccessDenied) {
		t.Fatalf("expected ErrMediaAccessDenied, got %v", err)
	}
	if ch.Len() != 0 {
		t.Fatal("no call record may be created when media is denied")
	}
	if caller.coord.State() != StateIdle {
		t.Fatalf("expected idle, got %s", caller.coord.State())
	}

	caller.devices.Deny(false)
	if _, err := caller.coord.StartCall(context.Background()); err != nil {
		t.Fatalf("retry after grant: %v", err)
	}
}

func TestSignalingRetries(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		ch := memory.New()
		ch.FailNext("publish_offer", 2)
		caller := newParticipant(t, RoleCaller, ch)

		id, err := caller.coord.StartCall(context.Background())
		if err != nil {
			t.Fatalf("StartCall: %v", err)
		}
		if snap, _ := ch.Snapshot(id); snap.Offer == nil {
			t.Fatal("offer not published after retries")
		}
	})

	t.Run("exhaustion surfaces as session not found", func(t *testing.T) {
		ch := memory.New()
		ch.FailNext("create", 10)
		caller := newParticipant(t, RoleCaller, ch)

		_, err := caller.coord.StartCall(context.Background())
		if !errors.Is(err, signaling.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if !errors.Is(err, memory.ErrInjected) {
			t.Fatalf("expected underlying cause to be kept, got %v", err)
		}
		if caller.devices.Open() != 0 {
			t.Fatal("media not released after failure")
		}
		if peer := caller.peers.last(); peer == nil || !peer.isClosed() {
			t.Fatal("peer not closed after failure")
		}
		if caller.coord.State() != StateIdle {
			t.Fatalf("expected idle, got %s", caller.coord.State())
		}
	})

	t.Run("rejected requests are not retried", func(t *testing.T) {
		ch := memory.New()
		ch.FailNextWith("create", 1, rejectedError{})
		caller := newParticipant(t, RoleCaller, ch)

		_, err := caller.coord.StartCall(context.Background())
		if !errors.As(err, new(rejectedError)) {
			t.Fatalf("expected rejection to surface, got %v", err)
		}
		if errors.Is(err, signaling.ErrSessionNotFound) {
			t.Fatalf("rejection must not be reported as session not found: %v", err)
		}
		if _, err := caller.coord.StartCall(context.Background()); err != nil {
			t.Fatalf("second StartCall: %v", err)
		}
	})

	t.Run("session not found is not retried", func(t *testing.T) {
		ch := memory.New()
		callee := newParticipant(t, RoleCallee, ch)

		start := time.Now()
		err := callee.coord.JoinCall(context.Background(), "missing")
		if !errors.Is(err, signaling.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Fatal("missing session should fail fast")
		}
	})
}

func TestRoleAndReentryGuards(t *testing.T) {
	ch := memory.New()
	caller := newParticipant(t, RoleCaller, ch)
	callee := newParticipant(t, RoleCallee, ch)

	if err := caller.coord.JoinCall(context.Background(), "x"); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("expected ErrWrongRole, got %v", err)
	}
	if _, err := callee.coord.StartCall(context.Background()); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("expected ErrWrongRole, got %v", err)
	}

	if _, err := caller.coord.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if _, err := caller.coord.StartCall(context.Background()); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}

	if err := caller.coord.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	id, err := caller.coord.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall after end: %v", err)
	}
	if len(caller.peers.peers) != 2 || id == "" {
		t.Fatal("expected a fresh peer for the second call")
	}
}

func TestNegotiateWithPion(t *testing.T) {
	ctx := context.Background()
	ch := memory.New()

	newCoord := func(role Role) *Coordinator {
		factory, err := rtc.NewPionFactory(nil, nil)
		if err != nil {
			t.Fatalf("pion factory: %v", err)
		}
		c := New(Options{
			Role:        role,
			Channel:     ch,
			Devices:     media.NewVirtualDevices(),
			Peers:       factory,
			Constraints: media.Constraints{Audio: true},
		})
		t.Cleanup(func() { c.EndCall() })
		return c
	}

	caller := newCoord(RoleCaller)
	callee := newCoord(RoleCallee)

	id, err := caller.StartCall(ctx)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := callee.JoinCall(ctx, id); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	waitFor(t, "caller applied answer", func() bool { return caller.State() == StateConnected })

	snap, _ := ch.Snapshot(id)
	if !strings.Contains(snap.Offer.SDP, "m=audio") || !strings.Contains(snap.Answer.SDP, "m=audio") {
		t.Fatal("expected audio sections in offer and answer")
	}
}
