package models

import (
	"math"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c is a usable position. The zero value is treated as
// "unknown" because driver profiles default their location to 0,0.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return false
	}
	return c.Lat != 0 || c.Lng != 0
}

type RideType string

const (
	RideStandard RideType = "standard"
	RidePremium  RideType = "premium"
	RideComfort  RideType = "comfort"
	RideShared   RideType = "shared"
)

// ParseRideType normalises a client supplied ride type ("Standard", " premium").
func ParseRideType(s string) (RideType, bool) {
	switch t := RideType(strings.ToLower(strings.TrimSpace(s))); t {
	case RideStandard, RidePremium, RideComfort, RideShared:
		return t, true
	}
	return "", false
}

type RideStatus string

const (
	StatusPending            RideStatus = "pending"
	StatusRequested          RideStatus = "requested"
	StatusAccepted           RideStatus = "accepted"
	StatusArrived            RideStatus = "arrived"
	StatusOngoing            RideStatus = "ongoing"
	StatusCompleted          RideStatus = "completed"
	StatusCancelled          RideStatus = "cancelled"
	StatusNoDriversAvailable RideStatus = "no_drivers_available"
)

// Terminal statuses never change again.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoDriversAvailable:
		return true
	}
	return false
}

var (
	// OfferStatuses are the states in which a ride is still looking for a driver.
	OfferStatuses = []RideStatus{StatusPending, StatusRequested}
	// EngagedStatuses are the states in which the assigned driver is busy.
	EngagedStatuses = []RideStatus{StatusAccepted, StatusArrived, StatusOngoing}
	// OpenStatuses are all non-terminal states.
	OpenStatuses = []RideStatus{StatusPending, StatusRequested, StatusAccepted, StatusArrived, StatusOngoing}
)

type Passenger struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
}

type Ride struct {
	ID         string      `json:"id"`
	DriverID   string      `json:"driver_id,omitempty"`
	RiderID    string      `json:"rider_id,omitempty"`
	Passengers []Passenger `json:"passengers"`

	Pickup            string  `json:"pickup"`
	Destination       string  `json:"destination"`
	PickupCoords      Coord   `json:"pickup_coordinates"`
	DestinationCoords Coord   `json:"destination_coordinates"`
	DistanceKm        float64 `json:"distance_km"`
	DurationMinutes   float64 `json:"duration_minutes"`

	RideType  RideType   `json:"ride_type"`
	BasePrice float64    `json:"base_price"`
	Status    RideStatus `json:"status"`

	RejectedBy   []string `json:"rejected_by"`
	CancelledBy  string   `json:"cancelled_by,omitempty"`
	CancelReason string   `json:"cancel_reason,omitempty"`

	RequestedAt *time.Time `json:"requested_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Rating *int   `json:"rating,omitempty"`
	Review string `json:"review,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices or stamps with a store.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.Passengers != nil {
		c.Passengers = append(make([]Passenger, 0, len(r.Passengers)), r.Passengers...)
	}
	if r.RejectedBy != nil {
		c.RejectedBy = append(make([]string, 0, len(r.RejectedBy)), r.RejectedBy...)
	}
	for _, p := range []**time.Time{&c.RequestedAt, &c.AcceptedAt, &c.ArrivedAt, &c.StartedAt, &c.CompletedAt, &c.CancelledAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	return &c
}

// HasPassenger reports whether id booked the ride or rides in it.
func (r *Ride) HasPassenger(id string) bool {
	if id == "" {
		return false
	}
	if r.RiderID == id {
		return true
	}
	for _, p := range r.Passengers {
		if p.UserID == id {
			return true
		}
	}
	return false
}

func (r *Ride) RejectedByDriver(driverID string) bool {
	for _, d := range r.RejectedBy {
		if d == driverID {
			return true
		}
	}
	return false
}

// Driver is a roster entry: an online driver and where it was last seen.
type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Active  bool      `json:"active"`
	Updated time.Time `json:"updated"`
}

// Route is the mapping provider's answer for pickup -> destination.
type Route struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
}
