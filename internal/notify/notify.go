// Package notify defines the messages the core sends to participants and the
// interface it sends them through. Delivery is best effort: a participant
// without a live connection simply misses the message and is resynced when
// it registers again.
package notify

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Outbound event names.
const (
	EventRideOffer          = "rideOffer"
	EventRideAssigned       = "rideAssigned"
	EventRideAccepted       = "rideAccepted"
	EventRideTaken          = "rideTaken"
	EventDriverArrived      = "driverArrived"
	EventRideOngoing        = "rideOngoing"
	EventRideCompleted      = "rideCompleted"
	EventRideCancelled      = "rideCancelled"
	EventRideRated          = "rideRated"
	EventNoDriversAvailable = "noDriversAvailable"
	EventInvalidAction      = "invalidAction"
	EventRegistered         = "registered"
)

// Notification is one outbound message. It is serialized as the
// {"event": ..., "data": ...} envelope.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Notifier delivers to a single participant. The bool reports whether a
// live connection (local or on another instance) accepted the message.
type Notifier interface {
	ToDriver(ctx context.Context, driverID string, n Notification) bool
	ToRider(ctx context.Context, riderID string, n Notification) bool
}

// Offer is the payload of rideOffer and rideAssigned.
type Offer struct {
	Ride             *models.Ride `json:"ride"`
	DistanceKm       float64      `json:"distance_km"`
	PickupETAMinutes float64      `json:"pickup_eta_minutes"`
}

// RideRef names a ride without its body.
type RideRef struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason,omitempty"`
}

// InvalidAction is sent to the caller of a rejected inbound event.
type InvalidAction struct {
	Action    string `json:"action"`
	RideID    string `json:"ride_id,omitempty"`
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Registered acknowledges registerDriver / registerRider.
type Registered struct {
	Role string `json:"role"`
	ID   string `json:"id"`
}

func RideOffer(o Offer) Notification    { return Notification{Event: EventRideOffer, Data: o} }
func RideAssigned(o Offer) Notification { return Notification{Event: EventRideAssigned, Data: o} }

func RideTaken(rideID string) Notification {
	return Notification{Event: EventRideTaken, Data: RideRef{RideID: rideID}}
}

func NoDriversAvailable(rideID string) Notification {
	return Notification{Event: EventNoDriversAvailable, Data: RideRef{RideID: rideID}}
}

// ForRide wraps a full ride body under event.
func ForRide(event string, r *models.Ride) Notification {
	return Notification{Event: event, Data: r}
}

// Nop drops everything.
type Nop struct{}

func (Nop) ToDriver(context.Context, string, Notification) bool { return false }
func (Nop) ToRider(context.Context, string, Notification) bool  { return false }
