package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

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
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t testing.TB) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t testing.TB, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

// createTestServices wires every service over one in-memory store and a
// running hub. The hub stops with the test.
func createTestServices(t testing.TB, gen assist.Generator) (Services, store.Store) {
	t.Helper()

	st := createTestStore(t)
	hub := core.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	media := objectstore.NewWithFs(afero.NewMemMapFs(), "/media")
	nop := zerolog.Nop()

	return Services{
		Auth:        createTestAuthService(t, st, "test-secret"),
		Calls:       calls.New(st, hub, &nop),
		Chat:        chat.New(st, hub, gen, &nop),
		Bookings:    bookings.New(st, st, bookings.Options{}, &nop),
		Consultants: consultants.New(st, media, &nop),
		Media:       media,
	}, st
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	return &cfg
}

func doJSON(t testing.TB, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t testing.TB, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
	return out
}

func signUp(t testing.TB, h http.Handler, email string) AuthResponse {
	t.Helper()
	resp := doJSON(t, h, http.MethodPost, "/api/auth/signup", "", SignUpRequest{Email: email, Password: "password123"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("signup %s: expected 201, got %d: %s", email, resp.Code, resp.Body.String())
	}
	return decode[AuthResponse](t, resp)
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
