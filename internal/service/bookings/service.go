package bookings

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// Common errors for booking operations.
var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidDateTime    = errors.New("invalid date or time")
	ErrConsultantNotFound = errors.New("consultant not found")
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	defaultReminderWindow = 30 * time.Minute
)

// Input describes a booking request.
type Input struct {
	UserID         *int64
	UserEmail      string
	UserName       string
	Age            string
	ConsultantID   int64
	ConsultantName string
	Date           string
	Time           string
	Message        string
}

// Reminder is emitted once per booking whose session is about to start.
type Reminder struct {
	Booking  *store.Booking
	StartsIn time.Duration
}

// Options tune the service.
type Options struct {
	// Location interprets booking dates and times. Defaults to UTC.
	Location *time.Location
	// ReminderWindow is how far ahead reminders look.
	ReminderWindow time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Service manages consultation bookings.
type Service struct {
	bookings    store.BookingStore
	consultants store.ConsultantStore
	loc         *time.Location
	window      time.Duration
	now         func() time.Time
	log         *zerolog.Logger
}

// New creates a booking service.
func New(bookings store.BookingStore, consultants store.ConsultantStore, opts Options, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ReminderWindow <= 0 {
		opts.ReminderWindow = defaultReminderWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		bookings:    bookings,
		consultants: consultants,
		loc:         opts.Location,
		window:      opts.ReminderWindow,
		now:         opts.Now,
		log:         logger,
	}
}

// Create validates and stores a booking. The session start is derived from
// Date and Time.
func (s *Service) Create(ctx context.Context, in Input) (*store.Booking, error) {
	in.UserEmail = strings.TrimSpace(in.UserEmail)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	if in.UserEmail == "" || in.ConsultantID == 0 || in.Date == "" || in.Time == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(in.UserEmail); err != nil {
		return nil, ErrInvalidEmail
	}

	sessionAt, err := SessionAt(in.Date, in.Time, s.loc)
	if err != nil {
		return nil, err
	}

	consultant, err := s.consultants.GetConsultant(ctx, in.ConsultantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConsultantNotFound
		}
		return nil, fmt.Errorf("get consultant: %w", err)
	}
	name := strings.TrimSpace(in.ConsultantName)
	if name == "" {
		name = consultant.Name
	}

	b := &store.Booking{
		UserID:         in.UserID,
		UserEmail:      strings.ToLower(in.UserEmail),
		UserName:       strings.TrimSpace(in.UserName),
		Age:            strings.TrimSpace(in.Age),
		ConsultantID:   consultant.ID,
		ConsultantName: name,
		Date:           in.Date,
		Time:           in.Time,
		Message:        strings.TrimSpace(in.Message),
		SessionAt:      sessionAt,
	}
	if err := s.bookings.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.log.Info().
		Int64("booking_id", b.ID).
		Int64("consultant_id", b.ConsultantID).
		Time("session_at", b.SessionAt).
		Msg("booking created")
	return b, nil
}

// List lists bookings, only those of userEmail when it is set.
func (s *Service) List(ctx context.Context, userEmail string) ([]*store.Booking, error) {
	list, err := s.bookings.ListBookings(ctx, strings.ToLower(strings.TrimSpace(userEmail)))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return list, nil
}

// DueReminders lists bookings starting within the reminder window.
func (s *Service) DueReminders(ctx context.Context) ([]Reminder, error) {
	now := s.now()
	list, err := s.bookings.ListBookingsBetween(ctx, now, now.Add(s.window))
	if err != nil {
		return nil, fmt.Errorf("list due bookings: %w", err)
	}
	reminders := make([]Reminder, 0, len(list))
	for _, b := range list {
		reminders = append(reminders, Reminder{Booking: b, StartsIn: b.SessionAt.Sub(now)})
	}
	return reminders, nil
}

// RunReminders polls for due bookings every interval and hands each one to
// notify exactly once, until ctx is done.
func (s *Service) RunReminders(ctx context.Context, interval time.Duration, notify func(Reminder)) {
	if interval <= 0 {
		interval = time.Minute
	}
	sent := make(map[int64]time.Time)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reminders, err := s.DueReminders(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("reminder poll failed")
		}
		for _, r := range reminders {
			if _, ok := sent[r.Booking.ID]; ok {
				continue
			}
			sent[r.Booking.ID] = r.Booking.SessionAt
			notify(r)
		}
		// forget bookings whose session already started
		now := s.now()
		for id, at := range sent {
			if at.Before(now) {
				delete(sent, id)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SessionAt combines a YYYY-MM-DD date and an HH:MM time in loc.
func SessionAt(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidDateTime, date, clock)
	}
	return at, nil
}
