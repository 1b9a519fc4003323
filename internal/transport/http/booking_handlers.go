package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/service/bookings"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// BookingHandlers provides HTTP handlers for bookings.
type BookingHandlers struct {
	service *bookings.Service
	log     *zerolog.Logger
}

// NewBookingHandlers creates a new booking handlers instance.
func NewBookingHandlers(svc *bookings.Service, logger *zerolog.Logger) *BookingHandlers {
	return &BookingHandlers{service: svc, log: logger}
}

// CreateBookingRequest represents the booking request body.
type CreateBookingRequest struct {
	UserEmail      string `json:"user_email"`
	UserName       string `json:"user_name"`
	Age            string `json:"age"`
	ConsultantID   int64  `json:"consultant_id"`
	ConsultantName string `json:"consultant_name"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Message        string `json:"message"`
}

// BookingResponse represents a booking in API responses.
type BookingResponse struct {
	ID              int64     `json:"id"`
	UserID          *int64    `json:"user_id,omitempty"`
	UserEmail       string    `json:"user_email"`
	UserName        string    `json:"user_name,omitempty"`
	Age             string    `json:"age,omitempty"`
	ConsultantID    int64     `json:"consultant_id"`
	ConsultantName  string    `json:"consultant_name"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	Message         string    `json:"message,omitempty"`
	SessionDateTime time.Time `json:"session_date_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReminderResponse is a booking starting soon.
type ReminderResponse struct {
	Booking         BookingResponse `json:"booking"`
	StartsInSeconds int64           `json:"starts_in_seconds"`
}

func bookingToResponse(b *store.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		UserID:          b.UserID,
		UserEmail:       b.UserEmail,
		UserName:        b.UserName,
		Age:             b.Age,
		ConsultantID:    b.ConsultantID,
		ConsultantName:  b.ConsultantName,
		Date:            b.Date,
		Time:            b.Time,
		Message:         b.Message,
		SessionDateTime: b.SessionAt,
		CreatedAt:       b.CreatedAt,
	}
}

// CreateBooking books a session. A signed-in caller is attached to the booking.
// POST /api/bookings
func (h *BookingHandlers) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	in := bookings.Input{
		UserEmail:      req.UserEmail,
		UserName:       req.UserName,
		Age:            req.Age,
		ConsultantID:   req.ConsultantID,
		ConsultantName: req.ConsultantName,
		Date:           req.Date,
		Time:           req.Time,
		Message:        req.Message,
	}
	if uid, email, ok := currentUser(c); ok {
		in.UserID = &uid
		if in.UserEmail == "" {
			in.UserEmail = email
		}
	}

	b, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, bookings.ErrMissingFields):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing required fields"})
		case errors.Is(err, bookings.ErrInvalidEmail), errors.Is(err, bookings.ErrInvalidDateTime):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, bookings.ErrConsultantNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "consultant not found"})
		default:
			h.log.Error().Err(err).Msg("failed to create booking")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	c.JSON(http.StatusCreated, bookingToResponse(b))
}

// ListBookings lists bookings, filtered by ?user_email= when present.
// GET /api/bookings
func (h *BookingHandlers) ListBookings(c *gin.Context) {
	list, err := h.service.List(c.Request.Context(), c.Query("user_email"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list bookings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]BookingResponse, 0, len(list))
	for _, b := range list {
		response = append(response, bookingToResponse(b))
	}
	c.JSON(http.StatusOK, response)
}

// ListReminders lists bookings starting within the reminder window.
// GET /api/bookings/reminders
func (h *BookingHandlers) ListReminders(c *gin.Context) {
	due, err := h.service.DueReminders(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list reminders")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ReminderResponse, 0, len(due))
	for _, r := range due {
		response = append(response, ReminderResponse{
			Booking:         bookingToResponse(r.Booking),
			StartsInSeconds: int64(r.StartsIn.Seconds()),
		})
	}
	c.JSON(http.StatusOK, response)
}
