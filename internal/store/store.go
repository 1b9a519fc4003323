package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// UserRole distinguishes clients from consultants.
type UserRole string

const (
	UserRoleClient     UserRole = "client"
	UserRoleConsultant UserRole = "consultant"
)

// User represents an account in the system.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	DisplayName  string
	Role         UserRole
	CreatedAt    time.Time
}

// Consultant is a professional users can book sessions with.
type Consultant struct {
	ID             int64
	Name           string
	Specialization string
	Experience     string
	ImageURL       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Booking is a scheduled consultation.
type Booking struct {
	ID             int64
	UserID         *int64
	UserEmail      string
	UserName       string
	Age            string
	ConsultantID   int64
	ConsultantName string
	Date           string // YYYY-MM-DD
	Time           string // HH:MM
	Message        string
	SessionAt      time.Time
	CreatedAt      time.Time
}

// Description is a session description (offer or answer) as persisted.
type Description struct {
	Type string
	SDP  string
}

// Empty reports whether the description carries no payload.
func (d *Description) Empty() bool {
	return d == nil || d.SDP == ""
}

// CallSession is the shared record two peers negotiate through.
// Offer is written once by the caller; Answer once by the callee.
type CallSession struct {
	ID        string // UUID
	CreatedBy int64
	Offer     *Description
	Answer    *Description
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CandidateDirection names the producer of an ICE candidate.
type CandidateDirection string

const (
	// DirectionOffer candidates are produced by the caller.
	DirectionOffer CandidateDirection = "offer"
	// DirectionAnswer candidates are produced by the callee.
	DirectionAnswer CandidateDirection = "answer"
)

// Valid reports whether d is a known direction.
func (d CandidateDirection) Valid() bool {
	return d == DirectionOffer || d == DirectionAnswer
}

// IceCandidate is an append-only network path descriptor attached to a call.
type IceCandidate struct {
	ID        int64
	CallID    string
	Direction CandidateDirection
	Payload   string // JSON encoded RTCIceCandidateInit
	CreatedAt time.Time
}

// ChatMessage is a message posted in a chat thread.
type ChatMessage struct {
	ID        int64
	ChatID    string
	Sender    string
	Text      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, email, passwordHash, displayName string, role UserRole) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// ConsultantStore handles consultant persistence.
type ConsultantStore interface {
	CreateConsultant(ctx context.Context, c *Consultant) error
	GetConsultant(ctx context.Context, id int64) (*Consultant, error)
	UpdateConsultant(ctx context.Context, c *Consultant) error
	DeleteConsultant(ctx context.Context, id int64) error

	// ListConsultants returns consultants whose name or specialization contains
	// query (case-insensitive). An empty query lists everything.
	ListConsultants(ctx context.Context, query string) ([]*Consultant, error)
}

// BookingStore handles booking persistence.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *Booking) error

	// ListBookings lists bookings, optionally only those of userEmail.
	ListBookings(ctx context.Context, userEmail string) ([]*Booking, error)

	// ListBookingsBetween lists bookings whose session starts in (from, to].
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]*Booking, error)
}

// CallStore handles call session persistence.
type CallStore interface {
	// CreateCallSession inserts a session with no offer and no answer.
	CreateCallSession(ctx context.Context, call *CallSession) error

	// GetCallSession retrieves a session by ID.
	GetCallSession(ctx context.Context, id string) (*CallSession, error)

	// SetOffer stores the offer if none is set yet. Returns false when an offer already exists.
	SetOffer(ctx context.Context, id string, offer Description) (bool, error)

	// SetAnswer stores the answer if an offer exists and no answer is set yet.
	// The offer columns are left untouched. Returns false when the guard failed.
	SetAnswer(ctx context.Context, id string, answer Description) (bool, error)

	// AddCandidate appends a candidate to one direction of a session.
	AddCandidate(ctx context.Context, c *IceCandidate) error

	// ListCandidates lists candidates of one direction in insertion order.
	ListCandidates(ctx context.Context, callID string, dir CandidateDirection) ([]*IceCandidate, error)
}

// MessageStore handles chat message persistence.
type MessageStore interface {
	// SaveMessage persists a message to storage.
	SaveMessage(ctx context.Context, msg *ChatMessage) error

	// ListMessages retrieves the newest limit messages of a chat in ascending order.
	ListMessages(ctx context.Context, chatID string, limit int) ([]*ChatMessage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConsultantStore
	BookingStore
	CallStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
