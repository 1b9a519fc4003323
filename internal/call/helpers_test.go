package call

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/mindconnect-server/internal/media"
	"github.com/vovakirdan/mindconnect-server/internal/rtc"
	"github.com/vovakirdan/mindconnect-server/internal/signaling/memory"
)

var (
	errNoRemoteDescription = errors.New("remote description not set")
	errAddRejected         = errors.New("candidate rejected")
)

// fakePeer records negotiation effects and emits a fixed set of local
// candidates once the local description is set.
type fakePeer struct {
	name   string
	gather []webrtc.ICECandidateInit

	mu             sync.Mutex
	tracks         []webrtc.TrackLocal
	local          *webrtc.SessionDescription
	remote         *webrtc.SessionDescription
	setRemoteCalls int
	added          []webrtc.ICECandidateInit
	failAdds       int
	closed         bool

	localCands   chan webrtc.ICECandidateInit
	remoteTracks chan rtc.RemoteTrack
}

func newFakePeer(name string, gather []webrtc.ICECandidateInit) *fakePeer {
	return &fakePeer{
		name:         name,
		gather:       gather,
		localCands:   make(chan webrtc.ICECandidateInit, 16),
		remoteTracks: make(chan rtc.RemoteTrack, 4),
	}
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-from-" + p.name}, ctx.Err()
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errNoRemoteDescription
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + p.name}, ctx.Err()
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	if p.closed {
		return errors.New("peer closed")
	}
	for _, c := range p.gather {
		p.localCands <- c
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setRemoteCalls++
	p.remote = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errNoRemoteDescription
	}
	if p.failAdds > 0 {
		p.failAdds--
		return errAddRejected
	}
	p.added = append(p.added, c)
	return nil
}

// failNextAdds makes the next n AddICECandidate calls fail.
func (p *fakePeer) failNextAdds(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAdds = n
}

func (p *fakePeer) LocalCandidates() <-chan webrtc.ICECandidateInit { return p.localCands }
func (p *fakePeer) RemoteTracks() <-chan rtc.RemoteTrack            { return p.remoteTracks }

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.PeerConnectionStateClosed
	}
	return webrtc.PeerConnectionStateNew
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.localCands)
	close(p.remoteTracks)
	return nil
}

func (p *fakePeer) remoteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setRemoteCalls
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) addedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.added))
	for _, c := range p.added {
		out = append(out, c.Candidate)
	}
	sort.Strings(out)
	return out
}

type fakeFactory struct {
	name   string
	gather []webrtc.ICECandidateInit

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer() (rtc.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := newFakePeer(fmt.Sprintf("%s-%d", f.name, len(f.peers)), f.gather)
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func candidates(names ...string) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, 0, len(names))
	for _, n := range names {
		out = append(out, webrtc.ICECandidateInit{Candidate: n})
	}
	return out
}

type participant struct {
	coord   *Coordinator
	devices *media.VirtualDevices
	peers   *fakeFactory
}

func newParticipant(t *testing.T, role Role, ch *memory.Channel, gather ...string) *participant {
	t.Helper()
	devices := media.NewVirtualDevices()
	peers := &fakeFactory{name: role.String(), gather: candidates(gather...)}
	coord := New(Options{
		Role:         role,
		Channel:      ch,
		Devices:      devices,
		Peers:        peers,
		RetryBackoff: time.Millisecond,
	})
	t.Cleanup(func() { coord.EndCall() })
	return &participant{coord: coord, devices: devices, peers: peers}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
