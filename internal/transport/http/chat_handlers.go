package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/proto"
	"github.com/vovakirdan/mindconnect-server/internal/service/chat"
)

// ChatHandlers provides HTTP handlers for chat threads.
type ChatHandlers struct {
	service *chat.Service
	log     *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(svc *chat.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{service: svc, log: logger}
}

// PostMessageRequest represents the message request body.
type PostMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// MoodResponse summarizes the tone of recent messages.
type MoodResponse struct {
	Mood     string `json:"mood"`
	Positive int    `json:"positive"`
	Negative int    `json:"negative"`
	Summary  string `json:"summary"`
}

// SuggestionsResponse lists smart replies.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// PostMessage posts a message as the current user.
// POST /api/chats/:id/messages
func (h *ChatHandlers) PostMessage(c *gin.Context) {
	_, email, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.service.Post(c.Request.Context(), c.Param("id"), email, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageToProto(msg))
}

// ListMessages lists the newest messages in timestamp order (?limit=).
// GET /api/chats/:id/messages
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.service.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response := make([]proto.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, messageToProto(m))
	}
	c.JSON(http.StatusOK, response)
}

// Mood analyzes the last messages of a chat.
// GET /api/chats/:id/mood
func (h *ChatHandlers) Mood(c *gin.Context) {
	mood, err := h.service.Mood(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MoodResponse{
		Mood:     string(mood.Label),
		Positive: mood.Positive,
		Negative: mood.Negative,
		Summary:  mood.Summary,
	})
}

// Suggestions proposes replies to the latest message.
// GET /api/chats/:id/suggestions
func (h *ChatHandlers) Suggestions(c *gin.Context) {
	suggestions, err := h.service.Suggestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuggestionsResponse{Suggestions: suggestions})
}

func (h *ChatHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong), errors.Is(err, chat.ErrInvalidChat):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("chat_id", c.Param("id")).Msg("chat request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
