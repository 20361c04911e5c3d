// Package httpapi exposes booking, quotes and ride lookups over HTTP and
// mounts the websocket gateway. Handlers only decode, call the core and
// encode; every business rule lives in dispatch and lifecycle.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Core is what the API needs from the dispatch engine.
type Core interface {
	Quote(ctx context.Context, req dispatch.QuoteRequest) (dispatch.Quote, error)
	Book(ctx context.Context, req dispatch.BookingRequest) (*models.Ride, error)
	Ride(ctx context.Context, id string) (*models.Ride, error)
	Cancel(ctx context.Context, actor storage.Participant, rideID, reason string) (*models.Ride, error)
	RidesFor(ctx context.Context, p storage.Participant) ([]*models.Ride, error)
	ActiveDrivers(ctx context.Context) ([]models.Driver, error)
	ReportLocation(ctx context.Context, driverID string, loc models.Coord, active bool) error
	Autocomplete(ctx context.Context, input string) ([]maps.Suggestion, error)
}

// Rater records a rider's rating of a completed ride.
type Rater interface {
	Rate(ctx context.Context, riderID, rideID string, rating int, review string) (*models.Ride, error)
}

// TokenVerifier resolves a bearer token to the user id it was issued to.
type TokenVerifier interface {
	Enabled() bool
	Subject(token string) (string, error)
}

type Server struct {
	core    Core
	rater   Rater
	carpool Carpool
	ws      http.Handler
	auth    TokenVerifier
	logger  *slog.Logger
	mux     *mux.Router
}

type Option func(*Server)

// WithAuth makes rider and driver actions act as the bearer token's subject.
func WithAuth(v TokenVerifier) Option {
	return func(s *Server) { s.auth = v }
}

// NewServer wires routes. ws may be nil when the process runs without the
// realtime gateway.
func NewServer(core Core, rater Rater, ws http.Handler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{core: core, rater: rater, ws: ws, logger: logger.With("component", "http"), mux: mux.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/quote", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rating", s.handleRate).Methods(http.MethodPost)
	api.HandleFunc("/places/autocomplete", s.handleAutocomplete).Methods(http.MethodGet)
	api.HandleFunc("/drivers/active", s.handleActiveDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/rides", s.handleRidesFor(storage.RoleDriver)).Methods(http.MethodGet)
	api.HandleFunc("/riders/{id}/rides", s.handleRidesFor(storage.RoleRider)).Methods(http.MethodGet)
	if s.carpool != nil {
		s.carpoolRoutes(api)
	}

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.ws != nil {
		s.mux.Handle("/ws", s.ws).Methods(http.MethodGet)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req dispatch.QuoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.core.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req dispatch.BookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.authEnabled() {
		id, err := s.actorID(r, req.RiderID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.RiderID = id
	}
	ride, err := s.core.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.core.Ride(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type cancelRequest struct {
	Role string `json:"role"`
	// ID is only trusted when the server runs without authentication;
	// otherwise the token subject is the actor and ID must agree or be empty.
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role != storage.RoleDriver && req.Role != storage.RoleRider {
		s.writeError(w, r, apperr.Validation("invalid_role", `role must be "driver" or "rider"`))
		return
	}
	id, err := s.actorID(r, req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if id == "" {
		s.writeError(w, r, apperr.Validation("missing_id", "id is required"))
		return
	}
	actor := storage.Participant{Role: req.Role, ID: id}
	ride, err := s.core.Cancel(r.Context(), actor, mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type rateRequest struct {
	RiderID string `json:"rider_id"`
	Rating  int    `json:"rating"`
	Review  string `json:"review"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	riderID, err := s.actorID(r, req.RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if riderID == "" {
		s.writeError(w, r, apperr.Validation("missing_rider", "rider_id is required"))
		return
	}
	ride, err := s.rater.Rate(r.Context(), riderID, mux.Vars(r)["id"], req.Rating, req.Review)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) authEnabled() bool { return s.auth != nil && s.auth.Enabled() }

// actorID returns the user a request acts as. With authentication on that is
// the bearer token's subject, and a claimed id that disagrees is refused.
// Without it the claimed id is taken as is.
func (s *Server) actorID(r *http.Request, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	if !s.authEnabled() {
		return claimed, nil
	}
	sub := callerFromContext(r.Context())
	if sub == "" {
		return "", apperr.Unauthorized("missing_token", "a bearer token is required")
	}
	if claimed != "" && claimed != sub {
		return "", apperr.Unauthorized("identity_mismatch", "token does not belong to "+claimed)
	}
	return sub, nil
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.core.Autocomplete(r.Context(), r.URL.Query().Get("input"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleActiveDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.core.ActiveDrivers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}

func (s *Server) handleRidesFor(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.actorID(r, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rides, err := s.core.RidesFor(r.Context(), storage.Participant{Role: role, ID: id})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if rides == nil {
			rides = []*models.Ride{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
	}
}

type locationReport struct {
	DriverID  string  `json:"driver_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Available *bool   `json:"available"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req locationReport
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DriverID) == "" {
		s.writeError(w, r, apperr.Validation("missing_driver", "driver_id is required"))
		return
	}
	active := true
	if req.Available != nil {
		active = *req.Available
	}
	if err := s.core.ReportLocation(r.Context(), req.DriverID, models.Coord{Lat: req.Lat, Lng: req.Lng}, active); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(into); err != nil {
		msg := "request body must be a JSON object"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		s.writeError(w, r, apperr.Validation("bad_request", msg))
		return false
	}
	return true
}
