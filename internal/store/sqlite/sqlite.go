package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/mindconnect-server/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash, displayName string, role store.UserRole) (*store.User, error) {
	query := `
		INSERT INTO users (email, password_hash, display_name, role)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, email, passwordHash, displayName, string(role))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, email, password_hash, display_name, role, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, email, password_hash, display_name, role, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	var role string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound("user", err)
	}
	user.Role = store.UserRole(role)
	return &user, nil
}

// ==== ConsultantStore implementation ====

// CreateConsultant inserts a consultant and fills its ID and timestamps.
func (s *SQLiteStore) CreateConsultant(ctx context.Context, c *store.Consultant) error {
	query := `
		INSERT INTO consultants (name, specialization, experience, image_url)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, c.Name, c.Specialization, c.Experience, c.ImageURL)
	if err != nil {
		return fmt.Errorf("insert consultant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	created, err := s.GetConsultant(ctx, id)
	if err != nil {
		return err
	}
	*c = *created
	return nil
}

// GetConsultant retrieves a consultant by ID.
func (s *SQLiteStore) GetConsultant(ctx context.Context, id int64) (*store.Consultant, error) {
	query := `
		SELECT id, name, specialization, experience, image_url, created_at, updated_at
		FROM consultants
		WHERE id = ?
	`
	var c store.Consultant
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Specialization, &c.Experience, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("consultant", err)
	}
	return &c, nil
}

// UpdateConsultant overwrites the editable consultant fields.
func (s *SQLiteStore) UpdateConsultant(ctx context.Context, c *store.Consultant) error {
	query := `
		UPDATE consultants
		SET name = ?, specialization = ?, experience = ?, image_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, c.Name, c.Specialization, c.Experience, c.ImageURL, c.ID)
	if err != nil {
		return fmt.Errorf("update consultant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("consultant %d: %w", c.ID, store.ErrNotFound)
	}
	return nil
}

// DeleteConsultant removes a consultant.
func (s *SQLiteStore) DeleteConsultant(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM consultants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete consultant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("consultant %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListConsultants returns consultants matching query by name or specialization.
func (s *SQLiteStore) ListConsultants(ctx context.Context, query string) ([]*store.Consultant, error) {
	q := `
		SELECT id, name, specialization, experience, image_url, created_at, updated_at
		FROM consultants
		WHERE ? = ''
		   OR LOWER(name) LIKE '%' || LOWER(?) || '%'
		   OR LOWER(specialization) LIKE '%' || LOWER(?) || '%'
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, q, query, query, query)
	if err != nil {
		return nil, fmt.Errorf("query consultants: %w", err)
	}
	defer rows.Close()

	consultants := []*store.Consultant{}
	for rows.Next() {
		var c store.Consultant
		if err := rows.Scan(&c.ID, &c.Name, &c.Specialization, &c.Experience, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan consultant: %w", err)
		}
		consultants = append(consultants, &c)
	}

	return consultants, rows.Err()
}

// ==== BookingStore implementation ====

// CreateBooking inserts a booking and fills its ID and CreatedAt.
func (s *SQLiteStore) CreateBooking(ctx context.Context, b *store.Booking) error {
	query := `
		INSERT INTO bookings (user_id, user_email, user_name, age, consultant_id, consultant_name, date, time, message, session_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		b.UserID,
		b.UserEmail,
		b.UserName,
		b.Age,
		b.ConsultantID,
		b.ConsultantName,
		b.Date,
		b.Time,
		b.Message,
		b.SessionAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	b.ID = id

	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM bookings WHERE id = ?`, id).Scan(&b.CreatedAt); err != nil {
		return fmt.Errorf("read booking created_at: %w", err)
	}
	return nil
}

const bookingColumns = `id, user_id, user_email, user_name, age, consultant_id, consultant_name, date, time, message, session_at, created_at`

// ListBookings lists bookings, optionally only those of userEmail.
func (s *SQLiteStore) ListBookings(ctx context.Context, userEmail string) ([]*store.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ? = '' OR user_email = ? ORDER BY session_at ASC`
	return s.queryBookings(ctx, query, userEmail, userEmail)
}

// ListBookingsBetween lists bookings whose session starts in (from, to].
func (s *SQLiteStore) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]*store.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE session_at > ? AND session_at <= ? ORDER BY session_at ASC`
	return s.queryBookings(ctx, query, from.Unix(), to.Unix())
}

func (s *SQLiteStore) queryBookings(ctx context.Context, query string, args ...any) ([]*store.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*store.Booking{}
	for rows.Next() {
		var b store.Booking
		var userID sql.NullInt64
		var sessionAt int64
		if err := rows.Scan(
			&b.ID,
			&userID,
			&b.UserEmail,
			&b.UserName,
			&b.Age,
			&b.ConsultantID,
			&b.ConsultantName,
			&b.Date,
			&b.Time,
			&b.Message,
			&sessionAt,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		if userID.Valid {
			b.UserID = &userID.Int64
		}
		b.SessionAt = time.Unix(sessionAt, 0).UTC()
		bookings = append(bookings, &b)
	}

	return bookings, rows.Err()
}

// ==== CallStore implementation ====

// CreateCallSession inserts a session with no offer and no answer.
func (s *SQLiteStore) CreateCallSession(ctx context.Context, call *store.CallSession) error {
	query := `
		INSERT INTO call_sessions (id, created_by)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, call.ID, call.CreatedBy); err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

// GetCallSession retrieves a session by ID.
func (s *SQLiteStore) GetCallSession(ctx context.Context, id string) (*store.CallSession, error) {
	query := `
		SELECT id, created_by, offer_type, offer_sdp, answer_type, answer_sdp, created_at, updated_at
		FROM call_sessions
		WHERE id = ?
	`
	var call store.CallSession
	var offerType, offerSDP, answerType, answerSDP sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&call.ID,
		&call.CreatedBy,
		&offerType,
		&offerSDP,
		&answerType,
		&answerSDP,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("call session", err)
	}

	if offerSDP.Valid {
		call.Offer = &store.Description{Type: offerType.String, SDP: offerSDP.String}
	}
	if answerSDP.Valid {
		call.Answer = &store.Description{Type: answerType.String, SDP: answerSDP.String}
	}

	return &call, nil
}

// SetOffer stores the offer if none is set yet.
func (s *SQLiteStore) SetOffer(ctx context.Context, id string, offer store.Description) (bool, error) {
	query := `
		UPDATE call_sessions
		SET offer_type = ?, offer_sdp = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND offer_sdp IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, offer.Type, offer.SDP, id)
	if err != nil {
		return false, fmt.Errorf("set offer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set offer rows: %w", err)
	}
	return n == 1, nil
}

// SetAnswer stores the answer if an offer exists and no answer is set yet.
func (s *SQLiteStore) SetAnswer(ctx context.Context, id string, answer store.Description) (bool, error) {
	query := `
		UPDATE call_sessions
		SET answer_type = ?, answer_sdp = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND answer_sdp IS NULL AND offer_sdp IS NOT NULL AND offer_sdp != ''
	`
	result, err := s.db.ExecContext(ctx, query, answer.Type, answer.SDP, id)
	if err != nil {
		return false, fmt.Errorf("set answer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set answer rows: %w", err)
	}
	return n == 1, nil
}

// AddCandidate appends a candidate to one direction of a session.
func (s *SQLiteStore) AddCandidate(ctx context.Context, c *store.IceCandidate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO ice_candidates (call_id, direction, payload, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, c.CallID, string(c.Direction), c.Payload, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// ListCandidates lists candidates of one direction in insertion order.
func (s *SQLiteStore) ListCandidates(ctx context.Context, callID string, dir store.CandidateDirection) ([]*store.IceCandidate, error) {
	query := `
		SELECT id, call_id, direction, payload, created_at
		FROM ice_candidates
		WHERE call_id = ? AND direction = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, callID, string(dir))
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*store.IceCandidate
	for rows.Next() {
		var c store.IceCandidate
		var direction string
		if err := rows.Scan(&c.ID, &c.CallID, &direction, &c.Payload, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Direction = store.CandidateDirection(direction)
		candidates = append(candidates, &c)
	}

	return candidates, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO chat_messages (chat_id, sender, text, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.ChatID, msg.Sender, msg.Text, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListMessages retrieves the newest limit messages of a chat in ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*store.ChatMessage, error) {
	query := `
		SELECT id, chat_id, sender, text, created_at FROM (
			SELECT id, chat_id, sender, text, created_at
			FROM chat_messages
			WHERE chat_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.ChatMessage{}
	for rows.Next() {
		var msg store.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
