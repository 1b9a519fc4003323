// Package remote implements signaling.Channel against the server's call API:
// plain HTTP for reads and writes, a WebSocket change stream for
// subscriptions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/proto"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
)

// Config configures a remote channel.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// Token returns the bearer token sent with every request.
	Token      func() string
	HTTPClient *http.Client
	Logger     *zerolog.Logger

	ReconnectDelay time.Duration
	MaxDelay       time.Duration
}

// Channel is a signaling.Channel backed by the HTTP call API.
type Channel struct {
	base   string
	token  func() string
	http   *http.Client
	dialer websocket.Dialer
	log    *zerolog.Logger

	reconnectDelay time.Duration
	maxDelay       time.Duration
}

// New creates a remote channel.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	return &Channel{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: token,
		http:  httpClient,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log:            logger,
		reconnectDelay: reconnect,
		maxDelay:       maxDelay,
	}
}

// StatusError is an unexpected HTTP response from the call API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("call api: status %d: %s", e.Status, e.Message)
}

// Retryable reports whether repeating the request may succeed. Client errors
// other than timeouts and throttling will fail the same way again.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 400 && e.Status < 500:
		return false
	}
	return true
}

func (c *Channel) CreateSession(ctx context.Context) (string, error) {
	var call proto.Call
	if err := c.do(ctx, http.MethodPost, "/api/calls", nil, &call); err != nil {
		return "", err
	}
	return call.ID, nil
}

func (c *Channel) PublishOffer(ctx context.Context, sessionID string, offer webrtc.SessionDescription) error {
	body := proto.Description{Type: offer.Type.String(), SDP: offer.SDP}
	return c.do(ctx, http.MethodPut, callPath(sessionID, "offer"), body, nil)
}

func (c *Channel) FetchOffer(ctx context.Context, sessionID string) (webrtc.SessionDescription, error) {
	var call proto.Call
	if err := c.do(ctx, http.MethodGet, callPath(sessionID), nil, &call); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if call.Offer == nil || call.Offer.SDP == "" {
		return webrtc.SessionDescription{}, signaling.ErrSessionNotFound
	}
	return toSessionDescription(call.Offer), nil
}

func (c *Channel) PublishAnswer(ctx context.Context, sessionID string, answer webrtc.SessionDescription) error {
	body := proto.Description{Type: answer.Type.String(), SDP: answer.SDP}
	return c.do(ctx, http.MethodPut, callPath(sessionID, "answer"), body, nil)
}

func (c *Channel) AppendCandidate(ctx context.Context, sessionID string, dir signaling.Direction, candidate webrtc.ICECandidateInit) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %q", dir)
	}
	return c.do(ctx, http.MethodPost, callPath(sessionID, "candidates", string(dir)), candidate, nil)
}

func (c *Channel) SubscribeToAnswer(ctx context.Context, sessionID string) (<-chan webrtc.SessionDescription, error) {
	events, err := c.watch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan webrtc.SessionDescription)
	go func() {
		defer close(out)
		for env := range events {
			if env.Event != proto.EventCallUpdated {
				continue
			}
			var call proto.Call
			if err := json.Unmarshal(env.Data, &call); err != nil {
				c.log.Warn().Err(err).Str("call_id", sessionID).Msg("decode call update")
				continue
			}
			if call.Answer == nil || call.Answer.SDP == "" {
				continue
			}
			select {
			case out <- toSessionDescription(call.Answer):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Channel) SubscribeToCandidates(ctx context.Context, sessionID string, dir signaling.Direction) (<-chan webrtc.ICECandidateInit, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("invalid direction %q", dir)
	}
	events, err := c.watch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan webrtc.ICECandidateInit)
	go func() {
		defer close(out)
		for env := range events {
			if env.Event != proto.EventCandidateAdded {
				continue
			}
			var cand proto.Candidate
			if err := json.Unmarshal(env.Data, &cand); err != nil {
				c.log.Warn().Err(err).Str("call_id", sessionID).Msg("decode candidate")
				continue
			}
			if cand.Direction != string(dir) {
				continue
			}
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal(cand.Candidate, &init); err != nil {
				c.log.Warn().Err(err).Str("call_id", sessionID).Msg("decode candidate payload")
				continue
			}
			select {
			case out <- init:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Channel) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return signaling.ErrSessionNotFound
	case http.StatusConflict:
		for _, sentinel := range []error{signaling.ErrOfferAlreadySet, signaling.ErrAnswerAlreadySet, signaling.ErrOfferMissing} {
			if body.Error == sentinel.Error() {
				return sentinel
			}
		}
	}
	return &StatusError{Status: resp.StatusCode, Message: body.Error}
}

// watch opens the change stream of a call and keeps it alive until ctx is
// done. The server replays the record on every connect.
func (c *Channel) watch(ctx context.Context, sessionID string) (<-chan proto.Envelope, error) {
	conn, err := c.dial(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(chan proto.Envelope)
	go c.stream(ctx, sessionID, conn, out)
	return out, nil
}

func (c *Channel) dial(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	header := http.Header{}
	if tok := c.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(sessionID), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, signaling.ErrSessionNotFound
		}
		return nil, fmt.Errorf("dial call stream: %w", err)
	}
	return conn, nil
}

func (c *Channel) stream(ctx context.Context, sessionID string, conn *websocket.Conn, out chan<- proto.Envelope) {
	defer close(out)
	log := c.log.With().Str("call_id", sessionID).Logger()
	delay := c.reconnectDelay

	for {
		err := readEnvelopes(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		for {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("call stream lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, c.maxDelay)

			conn, err = c.dial(ctx, sessionID)
			if err == nil {
				delay = c.reconnectDelay // reset backoff on successful connection
				break
			}
			if errors.Is(err, signaling.ErrSessionNotFound) {
				log.Warn().Msg("call disappeared, closing stream")
				return
			}
		}
	}
}

func readEnvelopes(ctx context.Context, conn *websocket.Conn, out chan<- proto.Envelope) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var env proto.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if env.Type == proto.OutboundTypeError {
			continue
		}
		select {
		case out <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) streamURL(sessionID string) string {
	u := c.base + callPath(sessionID, "ws")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func callPath(sessionID string, parts ...string) string {
	p := "/api/calls/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func toSessionDescription(d *proto.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

var _ signaling.Channel = (*Channel)(nil)
