package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool/internal/admin"
	"github.com/example/carpool/internal/alerts"
	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/booking"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/search"
	"github.com/example/carpool/internal/trips"
	"github.com/example/carpool/internal/users"
)

type Server struct {
	Trips  *trips.Service
	Users  *users.Service
	Alerts *alerts.Service
	Admin  *admin.Service
	Auth   *auth.Verifier
	WSReg  *dispatch.WSRegistry
	Geo    geo.Index

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(t *trips.Service, u *users.Service, al *alerts.Service, ad *admin.Service, verifier *auth.Verifier, wsreg *dispatch.WSRegistry, index geo.Index, logger *slog.Logger) *Server {
	s := &Server{
		Trips:  t,
		Users:  u,
		Alerts: al,
		Admin:  ad,
		Auth:   verifier,
		WSReg:  wsreg,
		Geo:    index,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/users/me", s.handleSaveProfile).Methods("PUT")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/search", s.handleSearchRides).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{id}/locations", s.handleRecordLocation).Methods("POST")

	api.HandleFunc("/bookings", s.handleBookRide).Methods("POST")
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancelBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}/rate", s.handleRateBooking).Methods("POST")

	api.HandleFunc("/alerts", s.handleRaiseAlert).Methods("POST")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/ack", s.handleAckAlert).Methods("POST")

	api.HandleFunc("/admin/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/admin/rides/nearby", s.handleNearbyRides).Methods("GET")

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// --- users ---

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in users.ProfileInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.Users.Save(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

// --- rides ---

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if id.Role != models.RoleDriver && !id.IsAdmin() {
		s.writeError(w, r, apperr.New(apperr.KindForbidden, "only drivers create rides"))
		return
	}
	var in trips.CreateRideInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.Trips.CreateRide(r.Context(), id.UserID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleSearchRides(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Origin:      r.URL.Query().Get("origin"),
		Destination: r.URL.Query().Get("destination"),
	}
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "date must be YYYY-MM-DD", err))
			return
		}
		q.Date = d
	}
	if v := r.URL.Query().Get("min_seats"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "min_seats must be an integer", err))
			return
		}
		q.MinSeats = n
	}
	if v := r.URL.Query().Get("max_price"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "max_price must be an integer", err))
			return
		}
		q.MaxPrice = n
	}
	rides, err := s.Trips.SearchRides(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Trips.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	ride, err := s.Trips.CancelRide(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in struct {
		Coord models.Coord `json:"coord"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Trips.RecordLocation(r.Context(), id, mux.Vars(r)["id"], in.Coord); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- bookings ---

func (s *Server) handleBookRide(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in struct {
		RideID      string `json:"ride_id"`
		Seats       int    `json:"seats"`
		PickupPoint string `json:"pickup_point"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Trips.BookRide(r.Context(), id.UserID, in.RideID, in.Seats, in.PickupPoint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	b, err := s.Trips.GetBooking(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	b, refund, err := s.Trips.CancelBooking(r.Context(), mux.Vars(r)["id"], id, in.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"booking": b, "refund_amount": refund})
}

func (s *Server) handleRateBooking(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in struct {
		Direction string `json:"direction"`
		Score     int    `json:"score"`
		Comment   string `json:"comment"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	dir := booking.RatingDirection(in.Direction)
	b, err := s.Trips.RateBooking(r.Context(), mux.Vars(r)["id"], id, dir, in.Score, in.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// --- alerts ---

func (s *Server) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var in alerts.RaiseInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Alerts.Raise(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	list, err := s.Alerts.ListOpen(r.Context(), id, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	a, err := s.Alerts.Ack(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

// --- admin ---

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	d, err := s.Admin.Dashboard(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleNearbyRides(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !id.IsAdmin() {
		s.writeError(w, r, apperr.New(apperr.KindForbidden, "nearby rides view is admin only"))
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, r, apperr.New(apperr.KindValidation, "lat and lon are required floats"))
		return
	}
	radius := 5000.0
	if v := r.URL.Query().Get("radius"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			radius = f
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": s.Geo.Nearby(lat, lon, radius, 50)})
}

// --- websocket ---

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on websocket handshakes; the token
	// rides in a query parameter instead.
	token := r.URL.Query().Get("token")
	id, err := s.Auth.Verify(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(id.UserID, conn)
	observability.WSSessions.Set(float64(s.WSReg.Len()))
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(id.UserID)
				observability.WSSessions.Set(float64(s.WSReg.Len()))
				return
			}
		}
	}()
}

// --- helpers ---

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed request body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

type errorBody struct {
	Error struct {
		Kind    apperr.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	var body errorBody
	body.Error.Kind = kind
	if kind == apperr.KindInternal {
		// never leak internals to the client
		body.Error.Message = "internal error"
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		var e *apperr.Error
		if errors.As(err, &e) {
			body.Error.Message = e.Message
		} else {
			body.Error.Message = err.Error()
		}
	}
	s.writeJSON(w, statusForKind(kind), body)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound, apperr.KindPassengerNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindCapacityExceeded, apperr.KindDuplicatePassenger,
		apperr.KindCancellationClosed, apperr.KindAlreadyRated, apperr.KindNotEligible,
		apperr.KindConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
