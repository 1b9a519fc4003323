// Package media provides local capture streams for a call participant.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/vovakirdan/mindconnect-server/internal/utils"
)

var (
	// ErrAccessDenied is returned when the platform refuses device access.
	ErrAccessDenied = errors.New("media access denied")
	// ErrNothingRequested is returned when neither audio nor video is requested.
	ErrNothingRequested = errors.New("no media kinds requested")
)

// Constraints selects which kinds of media a stream carries.
type Constraints struct {
	Video bool
	Audio bool
}

// Devices grants access to local capture devices.
type Devices interface {
	RequestStream(ctx context.Context, c Constraints) (*Stream, error)
}

// Track is one local media track. While disabled, samples are discarded.
type Track struct {
	kind    webrtc.RTPCodecType
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func newTrack(kind webrtc.RTPCodecType, streamID string) (*Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, kind.String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

// Kind reports whether this is an audio or video track.
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

// Local returns the pion track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Enabled reports whether samples are being forwarded.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips sample forwarding on or off.
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stopped reports whether the track has been released.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// Stop releases the track. Further samples are discarded.
func (t *Track) Stop() { t.stopped.Store(true) }

// WriteSample forwards a sample when the track is live and enabled.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// Stream is a set of local tracks acquired together.
type Stream struct {
	ID     string
	tracks []*Track

	stopOnce sync.Once
	onStop   func()
}

// Tracks returns all tracks of the stream.
func (s *Stream) Tracks() []*Track {
	return s.tracks
}

// AudioTrack returns the audio track, or nil.
func (s *Stream) AudioTrack() *Track { return s.track(webrtc.RTPCodecTypeAudio) }

// VideoTrack returns the video track, or nil.
func (s *Stream) VideoTrack() *Track { return s.track(webrtc.RTPCodecTypeVideo) }

func (s *Stream) track(kind webrtc.RTPCodecType) *Track {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Stop releases every track. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// Stopped reports whether all tracks have been released.
func (s *Stream) Stopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

// VirtualDevices hands out streams backed by sample-fed pion tracks.
// Permission can be revoked to emulate a user refusing device access.
type VirtualDevices struct {
	mu     sync.Mutex
	denied bool
	open   int
	total  int
}

// NewVirtualDevices returns devices that grant access.
func NewVirtualDevices() *VirtualDevices {
	return &VirtualDevices{}
}

// Deny toggles whether RequestStream fails with ErrAccessDenied.
func (d *VirtualDevices) Deny(denied bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = denied
}

// RequestStream acquires a stream with the requested kinds.
func (d *VirtualDevices) RequestStream(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, ErrNothingRequested
	}

	d.mu.Lock()
	denied := d.denied
	d.mu.Unlock()
	if denied {
		return nil, ErrAccessDenied
	}

	stream := &Stream{ID: utils.NewID()}
	if c.Audio {
		t, err := newTrack(webrtc.RTPCodecTypeAudio, stream.ID)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, t)
	}
	if c.Video {
		t, err := newTrack(webrtc.RTPCodecTypeVideo, stream.ID)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, t)
	}

	d.mu.Lock()
	d.open++
	d.total++
	d.mu.Unlock()
	stream.onStop = func() {
		d.mu.Lock()
		d.open--
		d.mu.Unlock()
	}
	return stream, nil
}

// Open reports how many acquired streams have not been stopped.
func (d *VirtualDevices) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Acquired reports how many streams were ever handed out.
func (d *VirtualDevices) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

var _ Devices = (*VirtualDevices)(nil)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// PumpSilence writes silent audio frames to t every 20ms until ctx is done
// or the track is stopped.
func PumpSilence(ctx context.Context, t *Track) error {
	const frame = 20 * time.Millisecond
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if t.Stopped() {
				return nil
			}
			if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frame}); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
		}
	}
}
