package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/objectstore"
	"github.com/vovakirdan/mindconnect-server/internal/service/consultants"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// ConsultantHandlers provides HTTP handlers for the consultant directory.
type ConsultantHandlers struct {
	service *consultants.Service
	media   *objectstore.Store
	log     *zerolog.Logger
}

// NewConsultantHandlers creates a new consultant handlers instance.
func NewConsultantHandlers(svc *consultants.Service, media *objectstore.Store, logger *zerolog.Logger) *ConsultantHandlers {
	return &ConsultantHandlers{service: svc, media: media, log: logger}
}

// ConsultantRequest represents the create/update request body.
type ConsultantRequest struct {
	Name           string `json:"name" binding:"required"`
	Specialization string `json:"specialization"`
	Experience     string `json:"experience"`
	ImageURL       string `json:"image_url"`
}

// ConsultantResponse represents a consultant in API responses.
type ConsultantResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Experience     string    `json:"experience"`
	ImageURL       string    `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func consultantToResponse(c *store.Consultant) ConsultantResponse {
	return ConsultantResponse{
		ID:             c.ID,
		Name:           c.Name,
		Specialization: c.Specialization,
		Experience:     c.Experience,
		ImageURL:       c.ImageURL,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r ConsultantRequest) input() consultants.Input {
	return consultants.Input{
		Name:           r.Name,
		Specialization: r.Specialization,
		Experience:     r.Experience,
		ImageURL:       r.ImageURL,
	}
}

// CreateConsultant adds a consultant.
// POST /api/consultants
func (h *ConsultantHandlers) CreateConsultant(c *gin.Context) {
	var req ConsultantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	created, err := h.service.Create(c.Request.Context(), req.input())
	if err != nil {
		h.fail(c, err, 0)
		return
	}
	c.JSON(http.StatusCreated, consultantToResponse(created))
}

// ListConsultants lists consultants, filtered by ?q= on name or specialization.
// GET /api/consultants
func (h *ConsultantHandlers) ListConsultants(c *gin.Context) {
	list, err := h.service.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err, 0)
		return
	}
	response := make([]ConsultantResponse, 0, len(list))
	for _, item := range list {
		response = append(response, consultantToResponse(item))
	}
	c.JSON(http.StatusOK, response)
}

// GetConsultant returns one consultant.
// GET /api/consultants/:id
func (h *ConsultantHandlers) GetConsultant(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, id)
		return
	}
	c.JSON(http.StatusOK, consultantToResponse(found))
}

// UpdateConsultant replaces the editable fields of a consultant.
// PUT /api/consultants/:id
func (h *ConsultantHandlers) UpdateConsultant(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req ConsultantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	updated, err := h.service.Update(c.Request.Context(), id, req.input())
	if err != nil {
		h.fail(c, err, id)
		return
	}
	c.JSON(http.StatusOK, consultantToResponse(updated))
}

// DeleteConsultant removes a consultant.
// DELETE /api/consultants/:id
func (h *ConsultantHandlers) DeleteConsultant(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, id)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadImage stores the "image" multipart file as the consultant's picture.
// POST /api/consultants/:id/image
func (h *ConsultantHandlers) UploadImage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "image file required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable image"})
		return
	}
	defer file.Close()

	updated, err := h.service.SetImage(c.Request.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.fail(c, err, id)
		return
	}
	c.JSON(http.StatusOK, consultantToResponse(updated))
}

// ServeMedia streams a stored object.
// GET /media/*key
func (h *ConsultantHandlers) ServeMedia(c *gin.Context) {
	f, err := h.media.Open(c.Param("key"))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) || errors.Is(err, objectstore.ErrInvalidKey) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to open media object")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func (h *ConsultantHandlers) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid consultant id"})
		return 0, false
	}
	return id, true
}

func (h *ConsultantHandlers) fail(c *gin.Context, err error, id int64) {
	switch {
	case errors.Is(err, consultants.ErrConsultantNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "consultant not found"})
	case errors.Is(err, consultants.ErrInvalidName), errors.Is(err, consultants.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, objectstore.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "image too large"})
	default:
		h.log.Error().Err(err).Int64("consultant_id", id).Msg("consultant request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
