package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// PionFactory builds peers on top of pion/webrtc.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    *zerolog.Logger
}

// NewPionFactory creates a factory using the default codec set and the given
// STUN/TURN URLs.
func NewPionFactory(iceServers []string, logger *zerolog.Logger) (*PionFactory, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return &PionFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
		log: logger,
	}, nil
}

// NewPeer opens a new peer connection.
func (f *PionFactory) NewPeer() (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &pionPeer{
		pc:         pc,
		candidates: make(chan webrtc.ICECandidateInit, 32),
		tracks:     make(chan RemoteTrack, 4),
		closed:     make(chan struct{}),
		log:        f.log,
	}
	p.state.Store(int32(webrtc.PeerConnectionStateNew))

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		p.emitCandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.emitTrack(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind(),
			Track:    track,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.state.Store(int32(state))
		f.log.Info().Str("state", state.String()).Msg("peer connection state changed")
	})

	return p, nil
}

type pionPeer struct {
	pc         *webrtc.PeerConnection
	candidates chan webrtc.ICECandidateInit
	tracks     chan RemoteTrack
	state      atomic.Int32
	log        *zerolog.Logger

	// mu guards the outbound channels against close while a callback sends.
	mu        sync.RWMutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (p *pionPeer) emitCandidate(c webrtc.ICECandidateInit) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.closed:
	case p.candidates <- c:
	}
}

func (p *pionPeer) emitTrack(t RemoteTrack) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.closed:
	case p.tracks <- t:
	}
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) LocalCandidates() <-chan webrtc.ICECandidateInit {
	return p.candidates
}

func (p *pionPeer) RemoteTracks() <-chan RemoteTrack {
	return p.tracks
}

func (p *pionPeer) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionState(p.state.Load())
}

func (p *pionPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.pc.Close()

		p.mu.Lock()
		close(p.candidates)
		close(p.tracks)
		p.mu.Unlock()
		p.state.Store(int32(webrtc.PeerConnectionStateClosed))
	})
	return err
}
