package http

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	svc, _ := createTestServices(t, nil)
	router := NewRouter(svc, testConfig(), nopLogger())

	resp := doJSON(t, router, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.Code, resp.Body.String())
	}
}

func TestAuthFlow(t *testing.T) {
	svc, _ := createTestServices(t, nil)
	router := NewRouter(svc, testConfig(), nopLogger())

	created := signUp(t, router, "ann@example.com")
	if created.Token == "" || created.User.Email != "ann@example.com" || created.User.Role != "client" {
		t.Fatalf("unexpected signup response: %+v", created)
	}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{name: "duplicate signup", path: "/api/auth/signup", body: SignUpRequest{Email: "ann@example.com", Password: "password123"}, status: http.StatusConflict},
		{name: "bad email", path: "/api/auth/signup", body: SignUpRequest{Email: "ann", Password: "password123"}, status: http.StatusBadRequest},
		{name: "short password", path: "/api/auth/signup", body: SignUpRequest{Email: "bob@example.com", Password: "123"}, status: http.StatusBadRequest},
		{name: "malformed body", path: "/api/auth/signup", body: "{", status: http.StatusBadRequest},
		{name: "wrong password", path: "/api/auth/login", body: LoginRequest{Email: "ann@example.com", Password: "nope-nope"}, status: http.StatusUnauthorized},
		{name: "login", path: "/api/auth/login", body: LoginRequest{Email: "ann@example.com", Password: "password123"}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, router, http.MethodPost, tt.path, "", tt.body)
			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}

	me := doJSON(t, router, http.MethodGet, "/api/auth/me", created.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", me.Code)
	}
	if user := decode[UserResponse](t, me); user.ID != created.User.ID {
		t.Fatalf("unexpected me response: %+v", user)
	}

	if resp := doJSON(t, router, http.MethodGet, "/api/auth/me", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", resp.Code)
	}
	if resp := doJSON(t, router, http.MethodGet, "/api/auth/me", "garbage", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("me with bad token: expected 401, got %d", resp.Code)
	}
}

func TestConsultantsAndBookings(t *testing.T) {
	svc, _ := createTestServices(t, nil)
	router := NewRouter(svc, testConfig(), nopLogger())

	resp := doJSON(t, router, http.MethodPost, "/api/consultants", "", ConsultantRequest{Name: "Dr. Rao", Specialization: "Anxiety"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create consultant: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	rao := decode[ConsultantResponse](t, resp)
	doJSON(t, router, http.MethodPost, "/api/consultants", "", ConsultantRequest{Name: "Dr. Lee", Specialization: "Grief"})

	found := decode[[]ConsultantResponse](t, doJSON(t, router, http.MethodGet, "/api/consultants?q=anx", "", nil))
	if len(found) != 1 || found[0].ID != rao.ID {
		t.Fatalf("unexpected search result: %+v", found)
	}

	if resp := doJSON(t, router, http.MethodGet, "/api/consultants/abc", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", resp.Code)
	}
	if resp := doJSON(t, router, http.MethodGet, "/api/consultants/999", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", resp.Code)
	}

	booking := CreateBookingRequest{ConsultantID: rao.ID, Date: "2030-01-02", Time: "10:30"}
	if resp := doJSON(t, router, http.MethodPost, "/api/bookings", "", booking); resp.Code != http.StatusBadRequest {
		t.Fatalf("anonymous booking without email: expected 400, got %d", resp.Code)
	}

	auth := signUp(t, router, "ann@example.com")
	resp = doJSON(t, router, http.MethodPost, "/api/bookings", auth.Token, booking)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create booking: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	b := decode[BookingResponse](t, resp)
	if b.UserEmail != "ann@example.com" || b.UserID == nil || b.ConsultantName != "Dr. Rao" {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if b.SessionDateTime.Format("2006-01-02 15:04") != "2030-01-02 10:30" {
		t.Fatalf("unexpected session time: %v", b.SessionDateTime)
	}

	booking.ConsultantID = 999
	booking.UserEmail = "bob@example.com"
	if resp := doJSON(t, router, http.MethodPost, "/api/bookings", "", booking); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown consultant: expected 404, got %d", resp.Code)
	}

	mine := decode[[]BookingResponse](t, doJSON(t, router, http.MethodGet, "/api/bookings?user_email=ann@example.com", "", nil))
	if len(mine) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(mine))
	}
	reminders := decode[[]ReminderResponse](t, doJSON(t, router, http.MethodGet, "/api/bookings/reminders", "", nil))
	if len(reminders) != 0 {
		t.Fatalf("a booking years ahead must not be due: %+v", reminders)
	}

	if resp := doJSON(t, router, http.MethodDelete, "/api/consultants/999", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("delete unknown: expected 404, got %d", resp.Code)
	}
	if resp := doJSON(t, router, http.MethodDelete, "/api/consultants/1", "", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
}

func TestConsultantImageUploadAndServe(t *testing.T) {
	svc, _ := createTestServices(t, nil)
	router := NewRouter(svc, testConfig(), nopLogger())

	rao := decode[ConsultantResponse](t, doJSON(t, router, http.MethodPost, "/api/consultants", "", ConsultantRequest{Name: "Dr. Rao"}))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="face.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("png-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/consultants/1/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	updated := decode[ConsultantResponse](t, resp)
	if updated.ID != rao.ID || updated.ImageURL == "" {
		t.Fatalf("unexpected consultant after upload: %+v", updated)
	}

	served := doJSON(t, router, http.MethodGet, updated.ImageURL, "", nil)
	if served.Code != http.StatusOK || served.Body.String() != "png-bytes" {
		t.Fatalf("serve media: %d %q", served.Code, served.Body.String())
	}
	if resp := doJSON(t, router, http.MethodGet, "/media/missing.png", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("missing media: expected 404, got %d", resp.Code)
	}
}

func TestMediaRoute(t *testing.T) {
	tests := map[string]string{
		"":                             "/media",
		"/media":                       "/media",
		"/static/img/":                 "/static/img",
		"https://cdn.example.com/pics": "/pics",
		"https://cdn.example.com":      "/media",
	}
	for in, want := range tests {
		if got := mediaRoute(in); got != want {
			t.Fatalf("mediaRoute(%q) = %q, want %q", in, got, want)
		}
	}
}
