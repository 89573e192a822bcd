package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/carpool/internal/admin"
	"github.com/example/carpool/internal/alerts"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/geocode"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/storage"
	"github.com/example/carpool/internal/trips"
	"github.com/example/carpool/internal/users"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *auth.Verifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	verifier := auth.NewVerifier(testSecret, "carpool")
	tripSvc := &trips.Service{
		Store:     store,
		Payments:  &payments.LogRefunder{},
		Notifier:  dispatch.NopNotifier{},
		Geocoder:  geocode.NopResolver{},
		Locations: ingest.NopPublisher{},
		Logger:    logger,
	}
	srv := NewServer(
		tripSvc,
		&users.Service{Store: store},
		&alerts.Service{Store: store, Notifier: dispatch.NopNotifier{}, Logger: logger},
		&admin.Service{Store: store},
		verifier,
		dispatch.NewWSRegistry(logger),
		geo.NewMemIndex(),
		logger,
	)
	return srv, verifier
}

func bearer(t *testing.T, v *auth.Verifier, userID string, role models.Role) string {
	t.Helper()
	tok, err := v.Issue(auth.Identity{UserID: userID, Name: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/api/v1/rides/search", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Kind != "unauthorized" {
		t.Fatalf("expected unauthorized kind, got %q", body.Error.Kind)
	}
}

func TestCreateAndBookRideOverHTTP(t *testing.T) {
	srv, v := newTestServer(t)
	driver := bearer(t, v, "driver1", models.RoleDriver)
	passenger := bearer(t, v, "pass1", models.RolePassenger)

	departure := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	w := doJSON(t, srv, "POST", "/api/v1/rides", driver, `{
		"origin": "Paris", "destination": "Lyon",
		"departure_at": "`+departure+`",
		"seats": 3, "price_per_seat": 100, "currency": "eur"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var ride models.Ride
	if err := json.Unmarshal(w.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode ride: %v", err)
	}

	// passengers cannot create rides
	if w := doJSON(t, srv, "POST", "/api/v1/rides", passenger, `{}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for passenger ride create, got %d", w.Code)
	}

	w = doJSON(t, srv, "POST", "/api/v1/bookings", passenger, `{"ride_id":"`+ride.ID+`","seats":2,"pickup_point":"Gare de Lyon"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("book: expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var b models.Booking
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if b.TotalPrice != 200 {
		t.Fatalf("expected total price 200, got %d", b.TotalPrice)
	}

	w = doJSON(t, srv, "GET", "/api/v1/rides/"+ride.ID, passenger, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get ride: expected 200, got %d", w.Code)
	}
	var got models.Ride
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode ride: %v", err)
	}
	if got.SeatsLeft != 1 {
		t.Fatalf("expected 1 seat left, got %d", got.SeatsLeft)
	}
}

func TestErrorKindStatusMapping(t *testing.T) {
	srv, v := newTestServer(t)
	passenger := bearer(t, v, "pass1", models.RolePassenger)

	// unknown ride -> 404
	w := doJSON(t, srv, "GET", "/api/v1/rides/nope", passenger, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	// admin-only dashboard -> 403
	w = doJSON(t, srv, "GET", "/api/v1/admin/dashboard", passenger, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// malformed body -> 400
	w = doJSON(t, srv, "POST", "/api/v1/bookings", passenger, "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCapacityConflictMapsTo409(t *testing.T) {
	srv, v := newTestServer(t)
	driver := bearer(t, v, "driver1", models.RoleDriver)
	a := bearer(t, v, "passA", models.RolePassenger)
	b := bearer(t, v, "passB", models.RolePassenger)

	departure := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	w := doJSON(t, srv, "POST", "/api/v1/rides", driver, `{
		"origin": "Paris", "destination": "Lyon",
		"departure_at": "`+departure+`",
		"seats": 2, "price_per_seat": 100, "currency": "eur"
	}`)
	var ride models.Ride
	if err := json.Unmarshal(w.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode ride: %v", err)
	}

	if w := doJSON(t, srv, "POST", "/api/v1/bookings", a, `{"ride_id":"`+ride.ID+`","seats":2,"pickup_point":"X"}`); w.Code != http.StatusCreated {
		t.Fatalf("first booking: expected 201, got %d", w.Code)
	}
	w = doJSON(t, srv, "POST", "/api/v1/bookings", b, `{"ride_id":"`+ride.ID+`","seats":1,"pickup_point":"X"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when ride is full, got %d body=%s", w.Code, w.Body.String())
	}
}
