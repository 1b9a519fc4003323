package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/proto"
	"github.com/vovakirdan/mindconnect-server/internal/service/calls"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

const maxCandidateBytes = 16 << 10

// CallsHandlers provides HTTP handlers for the call signaling endpoints.
type CallsHandlers struct {
	service *calls.Service
	log     *zerolog.Logger
}

// NewCallsHandlers creates a new calls handlers instance.
func NewCallsHandlers(svc *calls.Service, logger *zerolog.Logger) *CallsHandlers {
	return &CallsHandlers{
		service: svc,
		log:     logger,
	}
}

// CreateCall creates an empty call record owned by the current user.
// POST /api/calls
func (h *CallsHandlers) CreateCall(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	call, err := h.service.Create(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, callToProto(call))
}

// GetCall returns a call record.
// GET /api/calls/:id
func (h *CallsHandlers) GetCall(c *gin.Context) {
	call, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, callToProto(call))
}

// PublishOffer sets the offer of a call.
// PUT /api/calls/:id/offer
func (h *CallsHandlers) PublishOffer(c *gin.Context) {
	var req proto.Description
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	call, err := h.service.PublishOffer(c.Request.Context(), c.Param("id"), store.Description{Type: req.Type, SDP: req.SDP})
	if err != nil {
		h.fail(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, callToProto(call))
}

// PublishAnswer attaches the answer of a call.
// PUT /api/calls/:id/answer
func (h *CallsHandlers) PublishAnswer(c *gin.Context) {
	var req proto.Description
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	call, err := h.service.PublishAnswer(c.Request.Context(), c.Param("id"), store.Description{Type: req.Type, SDP: req.SDP})
	if err != nil {
		h.fail(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, callToProto(call))
}

// AddCandidate appends an ICE candidate. The body is an RTCIceCandidateInit.
// POST /api/calls/:id/candidates/:direction
func (h *CallsHandlers) AddCandidate(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCandidateBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	cand, err := h.service.AddCandidate(c.Request.Context(), c.Param("id"), store.CandidateDirection(c.Param("direction")), string(body))
	if err != nil {
		h.fail(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusCreated, candidateToProto(cand))
}

// ListCandidates lists the candidates of one direction in insertion order.
// GET /api/calls/:id/candidates/:direction
func (h *CallsHandlers) ListCandidates(c *gin.Context) {
	list, err := h.service.ListCandidates(c.Request.Context(), c.Param("id"), store.CandidateDirection(c.Param("direction")))
	if err != nil {
		h.fail(c, err, c.Param("id"))
		return
	}

	response := make([]proto.Candidate, 0, len(list))
	for _, cand := range list {
		response = append(response, candidateToProto(cand))
	}
	c.JSON(http.StatusOK, response)
}

// fail maps call service errors to responses. Conflict bodies carry the
// sentinel text so remote clients can recover the error.
func (h *CallsHandlers) fail(c *gin.Context, err error, callID string) {
	switch {
	case errors.Is(err, calls.ErrCallNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: calls.ErrCallNotFound.Error()})
	case errors.Is(err, calls.ErrOfferAlreadySet):
		c.JSON(http.StatusConflict, ErrorResponse{Error: calls.ErrOfferAlreadySet.Error()})
	case errors.Is(err, calls.ErrAnswerAlreadySet):
		c.JSON(http.StatusConflict, ErrorResponse{Error: calls.ErrAnswerAlreadySet.Error()})
	case errors.Is(err, calls.ErrOfferMissing):
		c.JSON(http.StatusConflict, ErrorResponse{Error: calls.ErrOfferMissing.Error()})
	case errors.Is(err, calls.ErrInvalidDirection), errors.Is(err, calls.ErrInvalidDescription), errors.Is(err, calls.ErrInvalidCandidate):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("call_id", callID).Msg("call request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
