package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// AuthSession holds the signed-in user and notifies subscribers whenever it
// changes. A nil user means signed out.
type AuthSession struct {
	api *Client
	log *zerolog.Logger

	mu     sync.Mutex
	user   *User
	token  string
	subs   map[int]func(*User)
	nextID int
}

// NewAuthSession creates a signed-out session.
func NewAuthSession(api *Client, logger *zerolog.Logger) *AuthSession {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AuthSession{
		api:  api,
		log:  logger,
		subs: make(map[int]func(*User)),
	}
}

// Subscribe registers fn and calls it once with the current user. The
// returned function removes the subscription.
func (s *AuthSession) Subscribe(fn func(*User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := s.user
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SignIn logs in with a password.
func (s *AuthSession) SignIn(ctx context.Context, email, password string) error {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(&resp.User, resp.Token)
	s.log.Info().Int64("user_id", resp.User.ID).Msg("signed in")
	return nil
}

// CreateAccount signs up and signs in as the new user.
func (s *AuthSession) CreateAccount(ctx context.Context, email, password string) error {
	resp, err := s.api.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(&resp.User, resp.Token)
	s.log.Info().Int64("user_id", resp.User.ID).Msg("account created")
	return nil
}

// SignOut forgets the current user. Subscribers are told only when a user
// was signed in.
func (s *AuthSession) SignOut() {
	s.mu.Lock()
	wasSignedIn := s.user != nil
	s.mu.Unlock()
	if wasSignedIn {
		s.set(nil, "")
	}
}

// User returns the signed-in user or nil.
func (s *AuthSession) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Token returns the bearer token of the signed-in user, or "".
func (s *AuthSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *AuthSession) set(user *User, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	subs := make([]func(*User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(user)
	}
}
