package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/carpool"
	"github.com/example/ride-dispatch/internal/models"
)

// Carpool is what the API needs from the carpool service.
type Carpool interface {
	Create(ctx context.Context, req carpool.CreateRequest) (*carpool.Room, error)
	Room(ctx context.Context, id string) (*carpool.Room, error)
	List(ctx context.Context, status string) ([]*carpool.Room, error)
	Nearby(ctx context.Context, origin models.Coord, radiusKm float64) ([]*carpool.Room, error)
	Join(ctx context.Context, roomID string, req carpool.JoinRequest) (*carpool.Room, error)
	CheckIn(ctx context.Context, roomID, userID string) (*carpool.Room, error)
	Leave(ctx context.Context, roomID, userID string) (*carpool.Room, error)
	RemovePassenger(ctx context.Context, roomID, driverID, passengerID string) (*carpool.Room, error)
	Start(ctx context.Context, roomID, driverID string) (carpool.StartResult, error)
	Complete(ctx context.Context, roomID, driverID string) (*carpool.Room, error)
	Delete(ctx context.Context, roomID, driverID string) error
	Session(ctx context.Context, userID string) (*carpool.Room, error)
}

// WithCarpool mounts the carpool room routes.
func WithCarpool(c Carpool) Option {
	return func(s *Server) { s.carpool = c }
}

func (s *Server) carpoolRoutes(api *mux.Router) {
	cp := api.PathPrefix("/carpool").Subrouter()
	cp.HandleFunc("/rooms", s.handleRoomCreate).Methods(http.MethodPost)
	cp.HandleFunc("/rooms", s.handleRoomList).Methods(http.MethodGet)
	cp.HandleFunc("/rooms/nearby", s.handleRoomsNearby).Methods(http.MethodPost)
	cp.HandleFunc("/rooms/{id}", s.handleRoom).Methods(http.MethodGet)
	cp.HandleFunc("/rooms/{id}", s.handleRoomDelete).Methods(http.MethodDelete)
	cp.HandleFunc("/rooms/{id}/join", s.handleRoomJoin).Methods(http.MethodPost)
	cp.HandleFunc("/rooms/{id}/check-in", s.riderAction(s.carpool.CheckIn)).Methods(http.MethodPost)
	cp.HandleFunc("/rooms/{id}/leave", s.riderAction(s.carpool.Leave)).Methods(http.MethodPost)
	cp.HandleFunc("/rooms/{id}/passengers/{passenger}", s.handleRoomRemove).Methods(http.MethodDelete)
	cp.HandleFunc("/rooms/{id}/start", s.handleRoomStart).Methods(http.MethodPost)
	cp.HandleFunc("/rooms/{id}/complete", s.handleRoomComplete).Methods(http.MethodPost)
	cp.HandleFunc("/session", s.handleRoomSession).Methods(http.MethodGet)
}

func (s *Server) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	var req carpool.CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.actorID(r, req.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.DriverID = id
	room, err := s.carpool.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleRoomList(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.carpool.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms, "count": len(rooms)})
}

type nearbyRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius_km"`
}

func (s *Server) handleRoomsNearby(w http.ResponseWriter, r *http.Request) {
	var req nearbyRequest
	if !s.decode(w, r, &req) {
		return
	}
	rooms, err := s.carpool.Nearby(r.Context(), models.Coord{Lat: req.Lat, Lng: req.Lng}, req.RadiusKm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	radius := req.RadiusKm
	if radius == 0 {
		radius = carpool.DefaultNearbyKm
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms, "count": len(rooms), "radius_km": radius})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.carpool.Room(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomJoin(w http.ResponseWriter, r *http.Request) {
	var req carpool.JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.actorID(r, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.UserID = id
	room, err := s.carpool.Join(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type actorRequest struct {
	UserID   string `json:"user_id"`
	DriverID string `json:"driver_id"`
}

// actorFromBody decodes an optional {"user_id"} / {"driver_id"} body and
// resolves the caller from it.
func (s *Server) actorFromBody(w http.ResponseWriter, r *http.Request, driver bool) (string, bool) {
	var req actorRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return "", false
	}
	claimed := req.UserID
	if driver {
		claimed = req.DriverID
	}
	id, err := s.actorID(r, claimed)
	if err == nil && id == "" {
		field := "user_id"
		if driver {
			field = "driver_id"
		}
		err = apperr.Validation("missing_"+field, field+" is required")
	}
	if err != nil {
		s.writeError(w, r, err)
		return "", false
	}
	return id, true
}

func (s *Server) riderAction(fn func(ctx context.Context, roomID, userID string) (*carpool.Room, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.actorFromBody(w, r, false)
		if !ok {
			return
		}
		room, err := fn(r.Context(), mux.Vars(r)["id"], id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func (s *Server) handleRoomRemove(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.actorFromBody(w, r, true)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	room, err := s.carpool.RemovePassenger(r.Context(), vars["id"], driverID, vars["passenger"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomStart(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.actorFromBody(w, r, true)
	if !ok {
		return
	}
	res, err := s.carpool.Start(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRoomComplete(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.actorFromBody(w, r, true)
	if !ok {
		return
	}
	room, err := s.carpool.Complete(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomDelete(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.actorFromBody(w, r, true)
	if !ok {
		return
	}
	if err := s.carpool.Delete(r.Context(), mux.Vars(r)["id"], driverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoomSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.actorID(r, r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.carpool.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}
