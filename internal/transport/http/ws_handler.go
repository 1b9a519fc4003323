package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/proto"
	"github.com/vovakirdan/mindconnect-server/internal/service/calls"
	"github.com/vovakirdan/mindconnect-server/internal/service/chat"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// WSHandler streams record changes over WebSocket connections.
type WSHandler struct {
	calls        *calls.Service
	chat         *chat.Service
	msgPerMinute int
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. msgPerMinute bounds inbound
// chat messages per connection; zero disables the limit.
func NewWSHandler(callSvc *calls.Service, chatSvc *chat.Service, msgPerMinute int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{calls: callSvc, chat: chatSvc, msgPerMinute: msgPerMinute, log: logger}
}

// ServeCall streams the changes of a call: the current record and all stored
// candidates first, then live updates.
// GET /api/calls/:id/ws
func (h *WSHandler) ServeCall(c *gin.Context) {
	callID := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.calls.Watch(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: calls.ErrCallNotFound.Error()})
			return
		}
		h.log.Error().Err(err).Str("call_id", callID).Msg("watch call")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	conn, err := h.accept(c)
	if err != nil {
		return
	}
	log := h.log.With().Str("call_id", callID).Logger()

	h.serve(ctx, cancel, conn, &log,
		func(ctx context.Context) error {
			// Nothing is expected from the peer; reading surfaces the close frame.
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					return err
				}
			}
		},
		func(ctx context.Context) error {
			return writeEvents(ctx, conn, events)
		},
	)
}

// ServeChat streams new messages of a chat and accepts {"type":"msg"} frames
// posted as the current user.
// GET /api/chats/:id/ws
func (h *WSHandler) ServeChat(c *gin.Context) {
	_, email, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgs, err := h.chat.Subscribe(ctx, chatID)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidChat) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("subscribe chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	conn, err := h.accept(c)
	if err != nil {
		return
	}
	log := h.log.With().Str("chat_id", chatID).Str("sender", email).Logger()
	limiter := newRateLimiter(h.msgPerMinute, time.Minute)

	events := make(chan *core.Event)
	go func() {
		defer close(events)
		for m := range msgs {
			select {
			case events <- messageEvent(m):
			case <-ctx.Done():
				return
			}
		}
	}()

	h.serve(ctx, cancel, conn, &log,
		func(ctx context.Context) error {
			return h.readChat(ctx, conn, chatID, email, limiter, &log)
		},
		func(ctx context.Context) error {
			return writeEvents(ctx, conn, events)
		},
	)
}

// accept upgrades the request. gin's writer refuses to hijack once headers
// are flushed, and Accept flushes them first, so the upgrade goes through the
// underlying writer.
func (h *WSHandler) accept(c *gin.Context) (*websocket.Conn, error) {
	var w http.ResponseWriter = c.Writer
	if u, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = u.Unwrap()
	}
	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return nil, err
	}
	return conn, nil
}

// serve runs the read and write loops until either ends, then closes the
// connection with a status derived from the first error.
func (h *WSHandler) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *zerolog.Logger, readLoop, writeLoop func(context.Context) error) {
	defer conn.Close(websocket.StatusInternalError, "internal error")

	errCh := make(chan error, 2)
	go func() { errCh <- readLoop(ctx) }()
	go func() { errCh <- writeLoop(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readChat(ctx context.Context, conn *websocket.Conn, chatID, sender string, limiter *rateLimiter, log *zerolog.Logger) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		protoErr := h.handleChatInbound(ctx, chatID, sender, inbound, limiter)
		if protoErr == nil {
			continue
		}
		log.Debug().Str("code", protoErr.Code).Msg("rejected chat frame")
		if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
			return err
		}
	}
}

func (h *WSHandler) handleChatInbound(ctx context.Context, chatID, sender string, inbound proto.Inbound, limiter *rateLimiter) *proto.Error {
	if inbound.Type != proto.InboundTypeMsg {
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
	var data proto.MsgData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return &proto.Error{Code: "bad_request", Msg: "invalid msg payload"}
	}
	if !limiter.allow() {
		return &proto.Error{Code: "rate_limited", Msg: "too many messages"}
	}

	if _, err := h.chat.Post(ctx, chatID, sender, data.Text); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrMessageTooLong) {
			return &proto.Error{Code: "bad_request", Msg: err.Error()}
		}
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("post chat message")
		return &proto.Error{Code: "internal", Msg: "internal error"}
	}
	return nil
}

func writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan *core.Event) error {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func messageEvent(m *store.ChatMessage) *core.Event {
	return &core.Event{Kind: core.EventChatMessage, Topic: core.ChatTopic(m.ChatID), Message: m}
}
