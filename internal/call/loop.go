package call

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/mindconnect-server/internal/rtc"
)

// run is the per-call event loop. It publishes local candidates, applies
// the remote answer and remote candidates, and records remote tracks until
// ctx is cancelled by EndCall or a failed attempt.
func (c *Coordinator) run(ctx context.Context, peer rtc.Peer, sessionID string, attach <-chan inbound, done chan struct{}) {
	defer close(done)

	log := c.log.With().Str("call_id", sessionID).Logger()
	own := c.role.localDirection()

	local := peer.LocalCandidates()
	tracks := peer.RemoteTracks()
	var answers <-chan webrtc.SessionDescription
	var remote <-chan webrtc.ICECandidateInit

	for {
		select {
		case <-ctx.Done():
			return

		case in := <-attach:
			answers, remote = in.answers, in.candidates
			attach = nil

		case cand, ok := <-local:
			if !ok {
				local = nil
				continue
			}
			err := c.withRetry(ctx, "append candidate", func() error {
				return c.signal.AppendCandidate(ctx, sessionID, own, cand)
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("direction", string(own)).Msg("publish local candidate")
			}

		case desc, ok := <-answers:
			if !ok {
				answers = nil
				continue
			}
			if desc.SDP == "" {
				continue
			}
			err := c.applyRemoteDescription(peer, desc)
			switch {
			case err == nil:
				log.Info().Msg("answer applied")
			case errors.Is(err, ErrRemoteDescriptionAlreadySet):
				log.Debug().Err(err).Msg("skipping repeated answer")
			default:
				log.Error().Err(err).Msg("apply answer")
			}

		case cand, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			if err := c.handleRemoteCandidate(peer, cand); err != nil {
				log.Warn().Err(err).Msg("apply remote candidate")
			}

		case track, ok := <-tracks:
			if !ok {
				tracks = nil
				continue
			}
			c.mu.Lock()
			if c.peer == peer {
				c.remoteTracks = append(c.remoteTracks, track)
			}
			c.mu.Unlock()
			log.Info().Str("kind", track.Kind.String()).Str("track_id", track.ID).Msg("remote track received")
		}
	}
}

// applyRemoteDescription sets the remote description at most once per call
// and flushes candidates queued while it was absent.
func (c *Coordinator) applyRemoteDescription(peer rtc.Peer, desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer != peer {
		return ErrCallEnded
	}
	if c.remoteSet {
		return ErrRemoteDescriptionAlreadySet
	}
	if err := peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.remoteSet = true

	pending := c.pending
	c.pending = nil
	var firstErr error
	for _, cand := range pending {
		if err := peer.AddICECandidate(cand); err != nil {
			delete(c.seen, candidateKey(cand))
			if firstErr == nil {
				firstErr = fmt.Errorf("add queued candidate: %w", err)
			}
		}
	}

	if c.role == RoleCaller && c.state != StateEnded {
		c.state = StateConnected
	}
	return firstErr
}

// handleRemoteCandidate applies a candidate once, queueing it while the
// remote description is still absent.
func (c *Coordinator) handleRemoteCandidate(peer rtc.Peer, cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer != peer {
		return nil
	}
	key := candidateKey(cand)
	if _, dup := c.seen[key]; dup {
		return nil
	}

	if !c.remoteSet {
		c.seen[key] = struct{}{}
		c.pending = append(c.pending, cand)
		return nil
	}
	// Marked seen only once applied; a failed add is retried on redelivery.
	if err := peer.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	c.seen[key] = struct{}{}
	return nil
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate
	if c.SDPMid != nil {
		key += "|" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += "|" + strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key
}
