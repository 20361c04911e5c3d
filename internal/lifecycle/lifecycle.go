// Package lifecycle advances an assigned ride through arrived, ongoing and
// completed, and handles cancellation and rating. Every step is one guarded
// ConditionalTransition; the store decides, this package explains.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Action string

const (
	Arrive   Action = "arrive"
	Start    Action = "start"
	Complete Action = "complete"
	Cancel   Action = "cancel"
	Rate     Action = "rate"
)

type rule struct {
	from  []models.RideStatus
	to    models.RideStatus
	event string // outbound event for the counter-party
	kafka string
}

var driverRules = map[Action]rule{
	Arrive:   {from: []models.RideStatus{models.StatusAccepted}, to: models.StatusArrived, event: notify.EventDriverArrived, kafka: events.RideArrived},
	Start:    {from: []models.RideStatus{models.StatusArrived}, to: models.StatusOngoing, event: notify.EventRideOngoing, kafka: events.RideStarted},
	Complete: {from: []models.RideStatus{models.StatusOngoing}, to: models.StatusCompleted, event: notify.EventRideCompleted, kafka: events.RideCompleted},
}

type Machine struct {
	store    storage.RideStore
	notifier notify.Notifier
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Machine)

func WithEvents(p events.Publisher) Option { return func(m *Machine) { m.events = p } }
func WithLogger(l *slog.Logger) Option     { return func(m *Machine) { m.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(store storage.RideStore, notifier notify.Notifier, opts ...Option) *Machine {
	m := &Machine{
		store:    store,
		notifier: notifier,
		events:   events.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "lifecycle")
	return m
}

func (m *Machine) Arrive(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	return m.advance(ctx, Arrive, driverID, rideID)
}

func (m *Machine) Start(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	return m.advance(ctx, Start, driverID, rideID)
}

func (m *Machine) Complete(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	return m.advance(ctx, Complete, driverID, rideID)
}

func (m *Machine) advance(ctx context.Context, a Action, driverID, rideID string) (*models.Ride, error) {
	r := driverRules[a]
	g := storage.Guard{From: r.from, Driver: storage.AssignedTo, DriverID: driverID}
	ride, err := m.store.ConditionalTransition(ctx, rideID, g, storage.Change{To: r.to, At: m.now()})
	if err != nil {
		return nil, m.explain(ctx, a, storage.Participant{Role: storage.RoleDriver, ID: driverID}, rideID, g, err)
	}
	m.done(ctx, ride, r.kafka)
	m.notifyRiders(ctx, ride, notify.ForRide(r.event, ride))
	return ride, nil
}

// Cancel moves any non-terminal ride to cancelled. A driver may only cancel
// a ride assigned to them; a rider only a ride they booked or ride in.
func (m *Machine) Cancel(ctx context.Context, actor storage.Participant, rideID, reason string) (*models.Ride, error) {
	g := storage.Guard{From: models.OpenStatuses}
	switch actor.Role {
	case storage.RoleDriver:
		g.Driver, g.DriverID = storage.AssignedTo, actor.ID
	case storage.RoleRider:
		g.Passenger = actor.ID
	default:
		return nil, apperr.Validation("invalid_actor", "cancel needs a driver or rider")
	}
	if actor.ID == "" {
		return nil, apperr.Validation("invalid_actor", "cancel needs a driver or rider")
	}
	c := storage.Change{
		To:           models.StatusCancelled,
		CancelledBy:  actor.Role + ":" + actor.ID,
		CancelReason: strings.TrimSpace(reason),
		At:           m.now(),
	}
	ride, err := m.store.ConditionalTransition(ctx, rideID, g, c)
	if err != nil {
		return nil, m.explain(ctx, Cancel, actor, rideID, g, err)
	}
	m.done(ctx, ride, events.RideCancelled)
	n := notify.ForRide(notify.EventRideCancelled, ride)
	if actor.Role == storage.RoleRider {
		if ride.DriverID != "" {
			m.notifier.ToDriver(ctx, ride.DriverID, n)
		}
	} else {
		m.notifyRiders(ctx, ride, n)
	}
	return ride, nil
}

// Rate stores the rider's rating on a completed ride. It can be set once.
func (m *Machine) Rate(ctx context.Context, riderID, rideID string, rating int, review string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.Validation("invalid_rating", "rating must be between 1 and 5")
	}
	g := storage.Guard{From: []models.RideStatus{models.StatusCompleted}, Passenger: riderID, Unrated: true}
	ride, err := m.store.ConditionalTransition(ctx, rideID, g, storage.Change{Rating: &rating, Review: strings.TrimSpace(review), At: m.now()})
	if err != nil {
		return nil, m.explain(ctx, Rate, storage.Participant{Role: storage.RoleRider, ID: riderID}, rideID, g, err)
	}
	if err := m.events.PublishRide(ctx, events.FromRide(events.RideRated, ride)); err != nil {
		m.logger.Warn("publish ride event failed", "ride_id", ride.ID, "error", err)
	}
	if ride.DriverID != "" {
		m.notifier.ToDriver(ctx, ride.DriverID, notify.ForRide(notify.EventRideRated, ride))
	}
	return ride, nil
}

func (m *Machine) done(ctx context.Context, ride *models.Ride, kafkaType string) {
	observability.Transitions.WithLabelValues(string(ride.Status)).Inc()
	m.logger.Info("ride transitioned", "ride_id", ride.ID, "status", ride.Status, "driver_id", ride.DriverID)
	if err := m.events.PublishRide(ctx, events.FromRide(kafkaType, ride)); err != nil {
		m.logger.Warn("publish ride event failed", "ride_id", ride.ID, "error", err)
	}
}

func (m *Machine) notifyRiders(ctx context.Context, ride *models.Ride, n notify.Notification) {
	for _, id := range Riders(ride) {
		m.notifier.ToRider(ctx, id, n)
	}
}

// Riders returns the booking rider followed by any other identified
// passengers, without duplicates.
func Riders(r *models.Ride) []string {
	seen := make(map[string]bool, len(r.Passengers)+1)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(r.RiderID)
	for _, p := range r.Passengers {
		add(p.UserID)
	}
	return out
}

// explain turns a failed transition into an invalid-action error. The ride
// is re-read only to describe the mismatch; the answer may already be stale.
func (m *Machine) explain(ctx context.Context, a Action, actor storage.Participant, rideID string, g storage.Guard, cause error) error {
	if !errors.Is(cause, storage.ErrNotFound) {
		return apperr.Internal("could not update ride", cause)
	}
	ride, err := m.store.Get(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("ride_not_found", "ride not found")
	}
	if err != nil {
		return apperr.Internal("could not load ride", err)
	}
	var e *apperr.Error
	switch {
	case actor.Role == storage.RoleDriver && ride.DriverID != actor.ID:
		e = apperr.InvalidAction("not_assigned", "ride is not assigned to this driver", false)
	case actor.Role == storage.RoleRider && !ride.HasPassenger(actor.ID):
		e = apperr.InvalidAction("not_a_passenger", "ride does not belong to this rider", false)
	case a == Rate && ride.Status == models.StatusCompleted && ride.Rating != nil:
		e = apperr.InvalidAction("already_rated", "ride has already been rated", false)
	case ride.Status.Terminal():
		e = apperr.InvalidAction("ride_finished", fmt.Sprintf("ride is already %s", ride.Status), false)
	case len(g.From) > 0 && !contains(g.From, ride.Status):
		e = apperr.InvalidAction("wrong_state", fmt.Sprintf("cannot %s a ride that is %s", a, ride.Status), true)
	default:
		e = apperr.InvalidAction("conflict", "ride changed concurrently, try again", true)
	}
	observability.InvalidActions.WithLabelValues(e.Code).Inc()
	return e
}

func contains(list []models.RideStatus, s models.RideStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
