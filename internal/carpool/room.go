// Package carpool runs scheduled shared rides. A driver opens a room for a
// route and a departure time, riders take seats until it is full, check in
// at pickup, and the driver starts the trip with whoever showed up.
package carpool

import (
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses are the rooms a rider or driver can still be part of.
var ActiveStatuses = []Status{StatusWaiting, StatusInProgress}

var (
	ErrNotFound  = errors.New("carpool room not found")
	ErrDuplicate = errors.New("carpool room already exists")
)

// Seat is one rider's place in a room.
type Seat struct {
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone,omitempty"`
	CheckedIn   bool       `json:"checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}

type Room struct {
	ID                string          `json:"id"`
	DriverID          string          `json:"driver_id"`
	Route             string          `json:"route"`
	Pickup            string          `json:"pickup"`
	Destination       string          `json:"destination"`
	PickupCoords      models.Coord    `json:"pickup_coords"`
	DestinationCoords models.Coord    `json:"destination_coords"`
	Price             float64         `json:"price"`
	RideType          models.RideType `json:"ride_type"`
	MaxPassengers     int             `json:"max_passengers"`
	Status            Status          `json:"status"`
	Passengers        []Seat          `json:"passengers"`
	DepartureTime     time.Time       `json:"departure_time"`
	DistanceKm        float64         `json:"distance_km"`
	DurationMinutes   float64         `json:"duration_minutes"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// DistanceFromUser is only set on nearby searches.
	DistanceFromUser *float64 `json:"distance_from_user_km,omitempty"`
}

func (r *Room) Full() bool { return len(r.Passengers) >= r.MaxPassengers }

func (r *Room) CheckedInCount() int {
	n := 0
	for _, s := range r.Passengers {
		if s.CheckedIn {
			n++
		}
	}
	return n
}

// Seat returns the index of userID's seat, or -1.
func (r *Room) Seat(userID string) int {
	for i, s := range r.Passengers {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) active() bool {
	return r.Status == StatusWaiting || r.Status == StatusInProgress
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Passengers = make([]Seat, len(r.Passengers))
	for i, s := range r.Passengers {
		c.Passengers[i] = s
		if s.CheckedInAt != nil {
			t := *s.CheckedInAt
			c.Passengers[i].CheckedInAt = &t
		}
	}
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	if r.DistanceFromUser != nil {
		d := *r.DistanceFromUser
		c.DistanceFromUser = &d
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
