package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when a ride does not exist or, for
// ConditionalTransition, when its current state does not satisfy the guard.
// Callers racing on the same ride treat it as "someone else got there first".
var ErrNotFound = errors.New("ride not found")

// ErrDuplicateID is returned by Create when the draft carries an id that is
// already stored.
var ErrDuplicateID = errors.New("ride id already exists")

// DriverCond constrains the ride's current driver in a Guard.
type DriverCond int

const (
	AnyDriver DriverCond = iota
	Unassigned
	AssignedTo
	AssignedToOrUnassigned
)

// Guard is the precondition of a conditional transition.
type Guard struct {
	From   []models.RideStatus // ride must currently be in one of these; empty means any
	Driver DriverCond
	// DriverID is compared for AssignedTo and AssignedToOrUnassigned.
	DriverID string
	// Passenger, when set, must be the ride's rider or one of its passengers.
	Passenger string
	// Unrated requires that no rating has been stored yet.
	Unrated bool
	// NotRejectedBy, when set, fails the guard if that driver already
	// declined the ride.
	NotRejectedBy string
}

// Change is applied atomically when the Guard holds.
type Change struct {
	To models.RideStatus // empty keeps the status

	SetDriver bool
	DriverID  string // empty clears the driver when SetDriver is true

	Reject string // appended to RejectedBy unless already present

	CancelledBy  string
	CancelReason string

	Rating *int
	Review string

	// At stamps the timestamp that belongs to To.
	At time.Time
}

const (
	RoleDriver = "driver"
	RoleRider  = "rider"
)

// Participant selects rides by who is involved.
type Participant struct {
	Role string
	ID   string
}

// RideStore is the persistence boundary for rides.
type RideStore interface {
	// Create persists a new ride. The status is forced to initial regardless
	// of what the draft carries.
	Create(ctx context.Context, draft *models.Ride, initial models.RideStatus) (*models.Ride, error)
	Get(ctx context.Context, id string) (*models.Ride, error)
	// ConditionalTransition is a single compare-and-swap against the backing
	// store. Of any number of concurrent callers whose guards overlap, at most
	// one observes success; the rest get ErrNotFound.
	ConditionalTransition(ctx context.Context, id string, g Guard, c Change) (*models.Ride, error)
	FindByParticipant(ctx context.Context, p Participant, statuses ...models.RideStatus) ([]*models.Ride, error)
	FindByStatus(ctx context.Context, statuses ...models.RideStatus) ([]*models.Ride, error)
}

func (g Guard) matches(r *models.Ride) bool {
	if len(g.From) > 0 && !containsStatus(g.From, r.Status) {
		return false
	}
	switch g.Driver {
	case Unassigned:
		if r.DriverID != "" {
			return false
		}
	case AssignedTo:
		if r.DriverID == "" || r.DriverID != g.DriverID {
			return false
		}
	case AssignedToOrUnassigned:
		if r.DriverID != "" && r.DriverID != g.DriverID {
			return false
		}
	}
	if g.Passenger != "" && !r.HasPassenger(g.Passenger) {
		return false
	}
	if g.Unrated && r.Rating != nil {
		return false
	}
	if g.NotRejectedBy != "" && r.RejectedByDriver(g.NotRejectedBy) {
		return false
	}
	return true
}

func (c Change) apply(r *models.Ride) {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	if c.To != "" {
		r.Status = c.To
		if p := stampFor(r, c.To); p != nil {
			*p = &at
		}
	}
	if c.SetDriver {
		r.DriverID = c.DriverID
	}
	if c.Reject != "" && !r.RejectedByDriver(c.Reject) {
		r.RejectedBy = append(r.RejectedBy, c.Reject)
	}
	if c.CancelledBy != "" {
		r.CancelledBy = c.CancelledBy
		r.CancelReason = c.CancelReason
	}
	if c.Rating != nil {
		v := *c.Rating
		r.Rating = &v
		r.Review = c.Review
	}
	r.UpdatedAt = at
}

// stampFor returns the timestamp field a transition into s sets.
func stampFor(r *models.Ride, s models.RideStatus) **time.Time {
	switch s {
	case models.StatusRequested:
		return &r.RequestedAt
	case models.StatusAccepted:
		return &r.AcceptedAt
	case models.StatusArrived:
		return &r.ArrivedAt
	case models.StatusOngoing:
		return &r.StartedAt
	case models.StatusCompleted:
		return &r.CompletedAt
	case models.StatusCancelled:
		return &r.CancelledAt
	}
	return nil
}

// stampColumn is stampFor for the SQL schema.
func stampColumn(s models.RideStatus) string {
	switch s {
	case models.StatusRequested:
		return "requested_at"
	case models.StatusAccepted:
		return "accepted_at"
	case models.StatusArrived:
		return "arrived_at"
	case models.StatusOngoing:
		return "started_at"
	case models.StatusCompleted:
		return "completed_at"
	case models.StatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func containsStatus(list []models.RideStatus, s models.RideStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
