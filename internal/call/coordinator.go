// Package call negotiates a one-to-one media session between two peers
// through a shared call record.
//
// A Coordinator is tagged with a Role. The caller creates the record and
// publishes an offer; the callee reads the offer once and publishes an
// answer. Both sides trickle ICE candidates to their own direction and apply
// the other side's candidates as they arrive. Hang-up is local only.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/vovakirdan/mindconnect-server/internal/media"
	"github.com/vovakirdan/mindconnect-server/internal/rtc"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
)

const (
	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
)

// Options configures a Coordinator.
type Options struct {
	Role    Role
	Channel signaling.Channel
	Devices media.Devices
	Peers   rtc.Factory

	// Constraints defaults to audio and video.
	Constraints media.Constraints
	// Retries bounds how often a failed signaling operation is retried.
	// Zero means the default; negative disables retries.
	Retries      int
	RetryBackoff time.Duration
	Logger       *zerolog.Logger
}

// Coordinator drives the negotiation for one participant.
type Coordinator struct {
	role        Role
	signal      signaling.Channel
	devices     media.Devices
	peers       rtc.Factory
	constraints media.Constraints
	retries     int
	backoff     time.Duration
	log         *zerolog.Logger

	mu           sync.Mutex
	state        State
	busy         bool
	sessionID    string
	stream       *media.Stream
	peer         rtc.Peer
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	seen         map[string]struct{}
	remoteTracks []rtc.RemoteTrack
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates an idle coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("role", opts.Role.String()).Logger()

	constraints := opts.Constraints
	if !constraints.Audio && !constraints.Video {
		constraints = media.Constraints{Audio: true, Video: true}
	}
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = defaultRetries
	case retries < 0:
		retries = 0
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Coordinator{
		role:        opts.Role,
		signal:      opts.Channel,
		devices:     opts.Devices,
		peers:       opts.Peers,
		constraints: constraints,
		retries:     retries,
		backoff:     backoff,
		log:         &l,
		state:       StateIdle,
	}
}

// inbound carries the subscriptions the loop consumes once they exist.
type inbound struct {
	answers    <-chan webrtc.SessionDescription
	candidates <-chan webrtc.ICECandidateInit
}

// StartCall acquires media, creates a call record, publishes the offer and
// waits in the background for the answer. It returns the record id to share
// with the other participant.
func (c *Coordinator) StartCall(ctx context.Context) (string, error) {
	if c.role != RoleCaller {
		return "", ErrWrongRole
	}
	callCtx, err := c.begin()
	if err != nil {
		return "", err
	}
	defer c.finish()

	opCtx, stop := linkContext(ctx, callCtx)
	defer stop()

	peer, err := c.setupMedia(opCtx, callCtx)
	if err != nil {
		return "", c.fail(err)
	}

	var sessionID string
	err = c.withRetry(opCtx, "create session", func() error {
		var err error
		sessionID, err = c.signal.CreateSession(opCtx)
		return err
	})
	if err != nil {
		return "", c.fail(err)
	}
	log := c.log.With().Str("call_id", sessionID).Logger()

	attach := make(chan inbound, 1)
	if err := c.startLoop(callCtx, peer, sessionID, attach); err != nil {
		return "", c.fail(err)
	}

	offer, err := peer.CreateOffer(opCtx)
	if err != nil {
		return "", c.fail(fmt.Errorf("create offer: %w", err))
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return "", c.fail(fmt.Errorf("set local offer: %w", err))
	}
	c.setState(StateLocalDescriptionSet)

	err = c.withRetry(opCtx, "publish offer", func() error {
		return c.signal.PublishOffer(opCtx, sessionID, offer)
	})
	if err != nil {
		return "", c.fail(err)
	}

	in, err := c.subscribe(opCtx, callCtx, sessionID, true)
	if err != nil {
		return "", c.fail(err)
	}
	attach <- in

	c.mu.Lock()
	if c.state != StateEnded && !c.remoteSet {
		c.state = StateAwaitingRemote
	}
	c.mu.Unlock()

	log.Info().Msg("offer published, awaiting answer")
	return sessionID, nil
}

// JoinCall reads the offer of an existing record, acquires media and
// publishes an answer. A missing record or empty offer fails with
// signaling.ErrSessionNotFound before any media is acquired.
func (c *Coordinator) JoinCall(ctx context.Context, sessionID string) error {
	if c.role != RoleCallee {
		return ErrWrongRole
	}
	callCtx, err := c.begin()
	if err != nil {
		return err
	}
	defer c.finish()

	opCtx, stop := linkContext(ctx, callCtx)
	defer stop()
	log := c.log.With().Str("call_id", sessionID).Logger()

	var offer webrtc.SessionDescription
	err = c.withRetry(opCtx, "fetch offer", func() error {
		var err error
		offer, err = c.signal.FetchOffer(opCtx, sessionID)
		return err
	})
	if err != nil {
		return c.fail(err)
	}

	peer, err := c.setupMedia(opCtx, callCtx)
	if err != nil {
		return c.fail(err)
	}

	attach := make(chan inbound, 1)
	if err := c.startLoop(callCtx, peer, sessionID, attach); err != nil {
		return c.fail(err)
	}

	if err := c.applyRemoteDescription(peer, offer); err != nil {
		return c.fail(fmt.Errorf("apply offer: %w", err))
	}

	answer, err := peer.CreateAnswer(opCtx)
	if err != nil {
		return c.fail(fmt.Errorf("create answer: %w", err))
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return c.fail(fmt.Errorf("set local answer: %w", err))
	}
	c.setState(StateLocalDescriptionSet)

	err = c.withRetry(opCtx, "publish answer", func() error {
		return c.signal.PublishAnswer(opCtx, sessionID, answer)
	})
	if err != nil {
		return c.fail(err)
	}

	in, err := c.subscribe(opCtx, callCtx, sessionID, false)
	if err != nil {
		return c.fail(err)
	}
	attach <- in

	c.setState(StateConnected)
	log.Info().Msg("answer published")
	return nil
}

// EndCall cancels every subscription, closes the peer and stops local
// media. It is idempotent and valid from any state.
func (c *Coordinator) EndCall() error {
	err := c.teardown(StateEnded, true)
	if err != nil {
		c.log.Warn().Err(err).Msg("release call resources")
	}
	c.log.Info().Msg("call ended")
	return err
}

// ToggleMic flips the local audio track and returns its new state.
func (c *Coordinator) ToggleMic() bool {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleCamera flips the local video track and returns its new state.
func (c *Coordinator) ToggleCamera() bool {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

// MicEnabled reports whether a local audio track exists and is enabled.
func (c *Coordinator) MicEnabled() bool {
	return c.enabled(webrtc.RTPCodecTypeAudio)
}

// CameraEnabled reports whether a local video track exists and is enabled.
func (c *Coordinator) CameraEnabled() bool {
	return c.enabled(webrtc.RTPCodecTypeVideo)
}

// State returns the current negotiation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the role the coordinator was created with.
func (c *Coordinator) Role() Role {
	return c.role
}

// SessionID returns the id of the current call record, if any.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ConnectionState exposes the transport state of the peer connection.
func (c *Coordinator) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return webrtc.PeerConnectionStateClosed
	}
	return peer.ConnectionState()
}

// RemoteTracks returns the tracks received from the other participant.
func (c *Coordinator) RemoteTracks() []rtc.RemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rtc.RemoteTrack(nil), c.remoteTracks...)
}

// begin claims the coordinator for a new start or join.
func (c *Coordinator) begin() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || (c.state != StateIdle && c.state != StateEnded) {
		return nil, ErrCallInProgress
	}

	callCtx, cancel := context.WithCancel(context.Background())
	c.busy = true
	c.state = StateAcquiringMedia
	c.sessionID = ""
	c.remoteSet = false
	c.pending = nil
	c.seen = make(map[string]struct{})
	c.remoteTracks = nil
	c.cancel = cancel
	c.done = nil
	return callCtx, nil
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEnded {
		c.state = s
	}
}

// setupMedia acquires the local stream and creates a peer carrying its
// tracks. Both are adopted by the coordinator unless the call was ended.
func (c *Coordinator) setupMedia(ctx, callCtx context.Context) (rtc.Peer, error) {
	stream, err := c.devices.RequestStream(ctx, c.constraints)
	if err != nil {
		if errors.Is(err, media.ErrAccessDenied) {
			return nil, fmt.Errorf("%w: %w", ErrMediaAccessDenied, err)
		}
		return nil, fmt.Errorf("request media: %w", err)
	}

	peer, err := c.peers.NewPeer()
	if err != nil {
		stream.Stop()
		return nil, fmt.Errorf("create peer: %w", err)
	}
	for _, track := range stream.Tracks() {
		if err := peer.AddTrack(track.Local()); err != nil {
			stream.Stop()
			return nil, multierr.Append(fmt.Errorf("add %s track: %w", track.Kind(), err), peer.Close())
		}
	}

	c.mu.Lock()
	if callCtx.Err() != nil {
		c.mu.Unlock()
		stream.Stop()
		return nil, multierr.Append(ErrCallEnded, peer.Close())
	}
	c.stream = stream
	c.peer = peer
	c.mu.Unlock()
	return peer, nil
}

// startLoop records the session id and starts the event loop.
func (c *Coordinator) startLoop(callCtx context.Context, peer rtc.Peer, sessionID string, attach <-chan inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if callCtx.Err() != nil {
		return ErrCallEnded
	}
	c.sessionID = sessionID
	done := make(chan struct{})
	c.done = done
	go c.run(callCtx, peer, sessionID, attach, done)
	return nil
}

// subscribe opens the streams of the other participant. Subscriptions live
// on callCtx so that they outlive the start or join request.
func (c *Coordinator) subscribe(opCtx, callCtx context.Context, sessionID string, wantAnswer bool) (inbound, error) {
	var in inbound
	remote := c.role.localDirection().Opposite()

	err := c.withRetry(opCtx, "subscribe candidates", func() error {
		var err error
		in.candidates, err = c.signal.SubscribeToCandidates(callCtx, sessionID, remote)
		return err
	})
	if err != nil {
		return inbound{}, err
	}

	if wantAnswer {
		err = c.withRetry(opCtx, "subscribe answer", func() error {
			var err error
			in.answers, err = c.signal.SubscribeToAnswer(callCtx, sessionID)
			return err
		})
		if err != nil {
			return inbound{}, err
		}
	}
	return in, nil
}

// fail releases everything acquired by a failed start or join and returns
// the coordinator to Idle, unless EndCall already ran.
func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended && !errors.Is(err, ErrCallEnded) {
		err = fmt.Errorf("%w: %w", ErrCallEnded, err)
	}

	if relErr := c.teardown(StateIdle, false); relErr != nil {
		c.log.Warn().Err(relErr).Msg("release after failure")
	}
	c.log.Warn().Err(err).Msg("call attempt failed")
	return err
}

// teardown detaches and releases all per-call resources. When force is
// false and the call already ended, the state is left as Ended.
func (c *Coordinator) teardown(next State, force bool) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	peer, stream := c.peer, c.stream
	c.cancel, c.done = nil, nil
	c.peer, c.stream = nil, nil
	c.remoteSet = false
	c.pending = nil
	c.remoteTracks = nil
	if force || c.state != StateEnded {
		c.state = next
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	var err error
	if peer != nil {
		err = multierr.Append(err, peer.Close())
	}
	if stream != nil {
		stream.Stop()
	}
	return err
}

func (c *Coordinator) toggle(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	track := c.localTrackLocked(kind)
	if track == nil {
		return false
	}
	track.SetEnabled(!track.Enabled())
	return track.Enabled()
}

func (c *Coordinator) enabled(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	track := c.localTrackLocked(kind)
	return track != nil && track.Enabled()
}

func (c *Coordinator) localTrackLocked(kind webrtc.RTPCodecType) *media.Track {
	if c.stream == nil {
		return nil
	}
	if kind == webrtc.RTPCodecTypeAudio {
		return c.stream.AudioTrack()
	}
	return c.stream.VideoTrack()
}

// linkContext returns a context cancelled when either parent is done.
func linkContext(ctx, callCtx context.Context) (context.Context, context.CancelFunc) {
	linked, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(callCtx, cancel)
	return linked, func() {
		stop()
		cancel()
	}
}
