package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/vovakirdan/mindconnect-server/internal/assist"
	"github.com/vovakirdan/mindconnect-server/internal/auth"
	"github.com/vovakirdan/mindconnect-server/internal/config"
	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/objectstore"
	"github.com/vovakirdan/mindconnect-server/internal/service/bookings"
	"github.com/vovakirdan/mindconnect-server/internal/service/calls"
	"github.com/vovakirdan/mindconnect-server/internal/service/chat"
	"github.com/vovakirdan/mindconnect-server/internal/service/consultants"
	"github.com/vovakirdan/mindconnect-server/internal/store"
	"github.com/vovakirdan/mindconnect-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/mindconnect-server/internal/transport/http"
)

const reminderInterval = time.Minute

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	bookings        *bookings.Service
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	images, err := objectstore.New(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("init media store: %w", err), st.Close())
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	var generator assist.Generator
	if cfg.OpenAIAPIKey != "" {
		generator = assist.New(assist.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			MaxRetries: 2,
		})
		logger.Info().Str("model", cfg.OpenAIModel).Msg("smart replies enabled")
	}

	hub := core.NewHub(logger)
	bookingSvc := bookings.New(st, st, bookings.Options{ReminderWindow: cfg.ReminderWindow}, logger)

	server := transporthttp.NewServer(transporthttp.Services{
		Auth:        auth.NewService(st, jwtConfig),
		Calls:       calls.New(st, hub, logger),
		Chat:        chat.New(st, hub, generator, logger),
		Bookings:    bookingSvc,
		Consultants: consultants.New(st, images, logger),
		Media:       images,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		bookings:        bookingSvc,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)
	go a.bookings.RunReminders(ctx, reminderInterval, a.logReminder)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")

	select {
	case err := <-serverErr:
		return multierr.Append(err, a.cleanup())
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return multierr.Append(err, a.cleanup())
		}
		return multierr.Append(<-serverErr, a.cleanup())
	}
}

func (a *App) logReminder(r bookings.Reminder) {
	a.log.Info().
		Int64("booking_id", r.Booking.ID).
		Str("user_email", r.Booking.UserEmail).
		Str("consultant", r.Booking.ConsultantName).
		Dur("starts_in", r.StartsIn).
		Msg("session reminder")
}

// cleanup closes database and other resources.
func (a *App) cleanup() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	a.log.Info().Msg("store closed")
	return nil
}
