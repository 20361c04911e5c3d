package carpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
)

const (
	MinPrice             = 100
	MaxPrice             = 50000
	DefaultMaxPassengers = 5
	DefaultNearbyKm      = 10
)

// Outbound carpool events.
const (
	EventRoomJoined       = "carpoolUserJoined"
	EventRoomLeft         = "carpoolUserLeft"
	EventCheckedIn        = "carpoolUserCheckedIn"
	EventPassengerRemoved = "carpoolPassengerRemoved"
	EventRideStarted      = "carpoolRideStarted"
	EventRideCompleted    = "carpoolRideCompleted"
	EventRoomDeleted      = "carpoolRoomDeleted"
)

// Update is the payload of every carpool event.
type Update struct {
	RoomID     string `json:"room_id"`
	Passengers int    `json:"passengers"`
	CheckedIn  int    `json:"checked_in"`
	UserID     string `json:"user_id,omitempty"`
	Removed    int    `json:"removed,omitempty"`
}

type CreateRequest struct {
	DriverID      string    `json:"driver_id"`
	Pickup        string    `json:"pickup"`
	Destination   string    `json:"destination"`
	Price         float64   `json:"price"`
	MaxPassengers int       `json:"max_passengers"`
	DepartureTime time.Time `json:"departure_time"`
	RideType      string    `json:"ride_type"`
}

type JoinRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

// StartResult reports the riders dropped for not checking in.
type StartResult struct {
	Room    *Room  `json:"room"`
	Removed []Seat `json:"removed"`
}

type Service struct {
	store    Store
	maps     maps.Provider
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }

func NewService(store Store, provider maps.Provider, notifier notify.Notifier, opts ...Option) *Service {
	s := &Service{store: store, maps: provider, notifier: notifier, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "carpool")
	return s
}

// Create geocodes and routes the trip, then opens a waiting room owned by
// the driver.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Room, error) {
	req.DriverID = strings.TrimSpace(req.DriverID)
	req.Pickup = strings.TrimSpace(req.Pickup)
	req.Destination = strings.TrimSpace(req.Destination)
	switch {
	case req.DriverID == "":
		return nil, apperr.Validation("missing_driver", "driver_id is required")
	case req.Pickup == "" || req.Destination == "":
		return nil, apperr.Validation("missing_route", "pickup and destination are required")
	case req.DepartureTime.IsZero():
		return nil, apperr.Validation("missing_departure", "departure_time is required")
	case !req.DepartureTime.After(s.now()):
		return nil, apperr.Validation("departure_in_past", "departure_time must be in the future")
	case req.Price < MinPrice || req.Price > MaxPrice:
		return nil, apperr.Validation("invalid_price", fmt.Sprintf("price must be between %d and %d", MinPrice, MaxPrice))
	case req.MaxPassengers < 0:
		return nil, apperr.Validation("invalid_seats", "max_passengers must be positive")
	}
	rt := models.RideStandard
	if req.RideType != "" {
		var ok bool
		if rt, ok = models.ParseRideType(req.RideType); !ok {
			return nil, apperr.Validation("invalid_ride_type", fmt.Sprintf("unknown ride type %q", req.RideType))
		}
	}
	seats := req.MaxPassengers
	if seats == 0 {
		seats = DefaultMaxPassengers
	}

	pc, err := s.geocode(ctx, "pickup", req.Pickup)
	if err != nil {
		return nil, err
	}
	dc, err := s.geocode(ctx, "destination", req.Destination)
	if err != nil {
		return nil, err
	}
	route, err := s.maps.Route(ctx, pc, dc)
	switch {
	case errors.Is(err, maps.ErrNoRoute):
		return nil, apperr.Validation("no_route", "no drivable route between pickup and destination")
	case err != nil:
		return nil, apperr.Upstream("maps_unavailable", "route lookup failed, try again", err)
	}

	room, err := s.store.Create(ctx, &Room{
		DriverID:          req.DriverID,
		Route:             req.Pickup + " → " + req.Destination,
		Pickup:            req.Pickup,
		Destination:       req.Destination,
		PickupCoords:      pc,
		DestinationCoords: dc,
		Price:             req.Price,
		RideType:          rt,
		MaxPassengers:     seats,
		Status:            StatusWaiting,
		Passengers:        []Seat{},
		DepartureTime:     req.DepartureTime.UTC(),
		DistanceKm:        route.DistanceKm,
		DurationMinutes:   route.DurationMinutes,
	})
	if err != nil {
		return nil, apperr.Internal("could not open room", err)
	}
	observability.CarpoolActions.WithLabelValues("create", "ok").Inc()
	s.logger.Info("carpool room opened", "room_id", room.ID, "driver_id", room.DriverID, "departure", room.DepartureTime)
	return room, nil
}

func (s *Service) geocode(ctx context.Context, field, address string) (models.Coord, error) {
	c, err := s.maps.Geocode(ctx, address)
	switch {
	case errors.Is(err, maps.ErrAddressNotFound) || (err == nil && !c.Valid()):
		return c, apperr.Validation(field+"_not_found", fmt.Sprintf("could not find %s address %q", field, address))
	case err != nil:
		return c, apperr.Upstream("maps_unavailable", "address lookup failed, try again", err)
	}
	return c, nil
}

func (s *Service) Room(ctx context.Context, id string) (*Room, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return r, nil
}

// List returns upcoming rooms in status, waiting when empty. "all" lists
// every active room. Waiting rooms whose departure has passed are hidden.
func (s *Service) List(ctx context.Context, status string) ([]*Room, error) {
	statuses := []Status{StatusWaiting}
	switch st := Status(strings.ToLower(strings.TrimSpace(status))); st {
	case "", StatusWaiting:
	case "all":
		statuses = ActiveStatuses
	case StatusInProgress, StatusCompleted, StatusCancelled:
		statuses = []Status{st}
	default:
		return nil, apperr.Validation("invalid_status", fmt.Sprintf("unknown room status %q", status))
	}
	rooms, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, apperr.Internal("could not list rooms", err)
	}
	return s.upcoming(rooms), nil
}

func (s *Service) upcoming(rooms []*Room) []*Room {
	now := s.now()
	out := rooms[:0]
	for _, r := range rooms {
		if r.Status == StatusWaiting && r.DepartureTime.Before(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Nearby lists upcoming waiting rooms whose pickup is within radiusKm of
// origin, closest first. A zero radius means DefaultNearbyKm.
func (s *Service) Nearby(ctx context.Context, origin models.Coord, radiusKm float64) ([]*Room, error) {
	if !origin.Valid() {
		return nil, apperr.Validation("invalid_location", "lat and lng are required")
	}
	if radiusKm < 0 {
		return nil, apperr.Validation("invalid_radius", "radius_km must be positive")
	}
	if radiusKm == 0 {
		radiusKm = DefaultNearbyKm
	}
	rooms, err := s.store.List(ctx, StatusWaiting)
	if err != nil {
		return nil, apperr.Internal("could not list rooms", err)
	}
	out := make([]*Room, 0)
	for _, r := range s.upcoming(rooms) {
		d := geo.DistanceKm(origin, r.PickupCoords)
		if d > radiusKm {
			continue
		}
		d = math.Round(d*100) / 100
		r.DistanceFromUser = &d
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].DistanceFromUser < *out[j].DistanceFromUser })
	return out, nil
}

// Join seats a rider in a waiting room.
func (s *Service) Join(ctx context.Context, roomID string, req JoinRequest) (*Room, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" {
		return nil, apperr.Validation("missing_user", "user_id is required")
	}
	if req.Name == "" {
		return nil, apperr.Validation("missing_name", "passenger name is required")
	}
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		switch {
		case r.Status != StatusWaiting:
			return apperr.InvalidAction("room_closed", "room is no longer taking passengers", false)
		case r.DriverID == req.UserID:
			return apperr.InvalidAction("own_room", "drivers cannot join their own room", false)
		case r.Seat(req.UserID) >= 0:
			return apperr.InvalidAction("already_joined", "you are already in this room", false)
		case r.Full():
			return apperr.InvalidAction("room_full", "room is full", false)
		}
		r.Passengers = append(r.Passengers, Seat{UserID: req.UserID, Name: req.Name, Phone: strings.TrimSpace(req.Phone)})
		return nil
	})
	return s.done(ctx, "join", room, err, EventRoomJoined, Update{UserID: req.UserID})
}

// CheckIn marks a seated rider as present at pickup.
func (s *Service) CheckIn(ctx context.Context, roomID, userID string) (*Room, error) {
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		i := r.Seat(userID)
		switch {
		case i < 0:
			return apperr.NotFound("not_in_room", "you are not in this room")
		case r.Status != StatusWaiting:
			return apperr.InvalidAction("room_closed", "check-in is closed for this room", false)
		}
		now := s.now()
		r.Passengers[i].CheckedIn = true
		r.Passengers[i].CheckedInAt = &now
		return nil
	})
	return s.done(ctx, "check_in", room, err, EventCheckedIn, Update{UserID: userID})
}

// Leave gives up a rider's seat before the trip starts.
func (s *Service) Leave(ctx context.Context, roomID, userID string) (*Room, error) {
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		i := r.Seat(userID)
		switch {
		case i < 0:
			return apperr.NotFound("not_in_room", "you are not in this room")
		case r.Status != StatusWaiting:
			return apperr.InvalidAction("room_closed", "the trip has already started", false)
		}
		r.Passengers = append(r.Passengers[:i], r.Passengers[i+1:]...)
		return nil
	})
	room, err = s.done(ctx, "leave", room, err, EventRoomLeft, Update{UserID: userID})
	if err == nil {
		s.notifier.ToRider(ctx, userID, notify.Notification{Event: EventRoomLeft, Data: update(room, Update{UserID: userID})})
	}
	return room, err
}

// RemovePassenger lets the room's driver drop a rider before departure.
func (s *Service) RemovePassenger(ctx context.Context, roomID, driverID, passengerID string) (*Room, error) {
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		if err := ownedBy(r, driverID); err != nil {
			return err
		}
		i := r.Seat(passengerID)
		switch {
		case i < 0:
			return apperr.NotFound("passenger_not_found", "passenger is not in this room")
		case r.Status != StatusWaiting:
			return apperr.InvalidAction("room_closed", "the trip has already started", false)
		}
		r.Passengers = append(r.Passengers[:i], r.Passengers[i+1:]...)
		return nil
	})
	if err == nil {
		s.notifier.ToRider(ctx, passengerID, notify.Notification{Event: EventPassengerRemoved, Data: Update{RoomID: roomID, UserID: passengerID}})
	}
	return s.done(ctx, "remove", room, err, EventPassengerRemoved, Update{UserID: passengerID})
}

// Start departs with the checked-in riders and drops everyone else.
func (s *Service) Start(ctx context.Context, roomID, driverID string) (StartResult, error) {
	var removed []Seat
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		if err := ownedBy(r, driverID); err != nil {
			return err
		}
		if r.Status != StatusWaiting {
			return apperr.InvalidAction("room_not_waiting", "only a waiting room can start", false)
		}
		kept := make([]Seat, 0, len(r.Passengers))
		removed = removed[:0]
		for _, p := range r.Passengers {
			if p.CheckedIn {
				kept = append(kept, p)
			} else {
				removed = append(removed, p)
			}
		}
		if len(kept) == 0 {
			return apperr.InvalidAction("no_passengers", "no passenger has checked in", true)
		}
		now := s.now()
		r.Passengers = kept
		r.Status = StatusInProgress
		r.StartedAt = &now
		return nil
	})
	if err == nil {
		for _, p := range removed {
			s.notifier.ToRider(ctx, p.UserID, notify.Notification{Event: EventPassengerRemoved, Data: Update{RoomID: roomID, UserID: p.UserID}})
		}
	}
	room, err = s.done(ctx, "start", room, err, EventRideStarted, Update{Removed: len(removed)})
	if err != nil {
		return StartResult{}, err
	}
	if removed == nil {
		removed = []Seat{}
	}
	return StartResult{Room: room, Removed: removed}, nil
}

// Complete ends a trip in progress.
func (s *Service) Complete(ctx context.Context, roomID, driverID string) (*Room, error) {
	room, err := s.store.Update(ctx, roomID, func(r *Room) error {
		if err := ownedBy(r, driverID); err != nil {
			return err
		}
		if r.Status != StatusInProgress {
			return apperr.InvalidAction("room_not_started", "only a started trip can complete", false)
		}
		now := s.now()
		r.Status = StatusCompleted
		r.CompletedAt = &now
		return nil
	})
	return s.done(ctx, "complete", room, err, EventRideCompleted, Update{})
}

// Delete removes a room that has not started. Seated riders are told.
func (s *Service) Delete(ctx context.Context, roomID, driverID string) error {
	room, err := s.store.Delete(ctx, roomID, func(r *Room) error {
		if err := ownedBy(r, driverID); err != nil {
			return err
		}
		if r.Status == StatusInProgress {
			return apperr.InvalidAction("room_in_progress", "complete the trip before deleting the room", false)
		}
		return nil
	})
	_, err = s.done(ctx, "delete", room, err, EventRoomDeleted, Update{})
	return err
}

// Session returns the active room the user drives or rides in, or nil.
func (s *Service) Session(ctx context.Context, userID string) (*Room, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("missing_user", "user_id is required")
	}
	rooms, err := s.store.List(ctx, ActiveStatuses...)
	if err != nil {
		return nil, apperr.Internal("could not list rooms", err)
	}
	for _, r := range rooms {
		if r.DriverID == userID || r.Seat(userID) >= 0 {
			return r, nil
		}
	}
	return nil, nil
}

func ownedBy(r *Room, driverID string) error {
	if driverID == "" || r.DriverID != driverID {
		return apperr.InvalidAction("not_room_driver", "only the room's driver can do that", false)
	}
	return nil
}

// done records the outcome of a room change and tells its participants.
func (s *Service) done(ctx context.Context, action string, room *Room, err error, event string, u Update) (*Room, error) {
	if err != nil {
		err = s.storeErr(err)
		observability.CarpoolActions.WithLabelValues(action, string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	observability.CarpoolActions.WithLabelValues(action, "ok").Inc()
	s.logger.Debug("carpool room changed", "action", action, "room_id", room.ID, "status", room.Status, "passengers", len(room.Passengers))
	n := notify.Notification{Event: event, Data: update(room, u)}
	s.notifier.ToDriver(ctx, room.DriverID, n)
	for _, p := range room.Passengers {
		s.notifier.ToRider(ctx, p.UserID, n)
	}
	return room, nil
}

func update(r *Room, u Update) Update {
	u.RoomID = r.ID
	u.Passengers = len(r.Passengers)
	u.CheckedIn = r.CheckedInCount()
	return u
}

func (s *Service) storeErr(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("room_not_found", "carpool room not found")
	}
	return apperr.Internal("carpool store failed", err)
}
