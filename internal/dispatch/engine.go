// Package dispatch turns booking requests into rides, offers them to nearby
// drivers and resolves who gets each ride. The store's conditional
// transition is the only arbiter; the offer table is a notification cache.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/roster"
	"github.com/example/ride-dispatch/internal/storage"
)

// Policy selects how a new ride finds its driver.
type Policy string

const (
	// Broadcast creates the ride pending and offers it to every candidate in
	// the first non-empty tier; the first accept wins.
	Broadcast Policy = "broadcast"
	// SingleAssign assigns the nearest candidate directly and walks down the
	// ranked list on rejection.
	SingleAssign Policy = "single-assign"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Broadcast, SingleAssign:
		return p, nil
	case "":
		return Broadcast, nil
	default:
		return "", fmt.Errorf("unknown dispatch policy %q", s)
	}
}

func (p Policy) initialStatus() models.RideStatus {
	if p == SingleAssign {
		return models.StatusRequested
	}
	return models.StatusPending
}

// BookingRequest is the intake of Book.
type BookingRequest struct {
	RiderID     string             `json:"rider_id"`
	Pickup      string             `json:"pickup"`
	Destination string             `json:"destination"`
	RideType    string             `json:"ride_type"`
	Fare        *float64           `json:"fare,omitempty"`
	Passengers  []models.Passenger `json:"passengers,omitempty"`
}

// QuoteRequest is the intake of Quote.
type QuoteRequest struct {
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	RideType    string `json:"ride_type"`
}

type Quote struct {
	RideType          models.RideType `json:"ride_type"`
	PickupCoords      models.Coord    `json:"pickup_coordinates"`
	DestinationCoords models.Coord    `json:"destination_coordinates"`
	DistanceKm        float64         `json:"distance_km"`
	DurationMinutes   float64         `json:"duration_minutes"`
	Fare              float64         `json:"fare"`
	Currency          string          `json:"currency"`
}

type Engine struct {
	store     storage.RideStore
	maps      maps.Provider
	places    maps.Autocompleter
	roster    roster.Roster
	notifier  notify.Notifier
	lifecycle *lifecycle.Machine
	offers    *OfferTable
	fares     *pricing.Table
	events    events.Publisher
	locations events.LocationPublisher

	policy   Policy
	radiiKm  []float64
	speedKmh float64
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

func WithRadii(km []float64) Option {
	return func(e *Engine) {
		if len(km) > 0 {
			e.radiiKm = append([]float64(nil), km...)
		}
	}
}

func WithDriverSpeed(kmh float64) Option { return func(e *Engine) { e.speedKmh = kmh } }
func WithFares(t *pricing.Table) Option  { return func(e *Engine) { e.fares = t } }
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}
func WithLocationPublisher(p events.LocationPublisher) Option {
	return func(e *Engine) { e.locations = p }
}
func WithOfferTable(t *OfferTable) Option { return func(e *Engine) { e.offers = t } }
func WithLogger(l *slog.Logger) Option    { return func(e *Engine) { e.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPlaces enables address autocompletion.
func WithPlaces(a maps.Autocompleter) Option { return func(e *Engine) { e.places = a } }

func New(store storage.RideStore, provider maps.Provider, r roster.Roster, notifier notify.Notifier, lc *lifecycle.Machine, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		maps:      provider,
		roster:    r,
		notifier:  notifier,
		lifecycle: lc,
		offers:    NewOfferTable(),
		fares:     pricing.DefaultTable(),
		events:    events.Nop{},
		locations: events.Nop{},
		policy:    Broadcast,
		radiiKm:   geo.DefaultTiersKm,
		speedKmh:  geo.DefaultSpeedKmh,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "dispatch")
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

// Quote prices a trip without booking it. Book uses the same path, so the
// same inputs always give the same fare.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	rt, err := validateTrip(req.Pickup, req.Destination, req.RideType)
	if err != nil {
		return Quote{}, err
	}
	return e.price(ctx, req.Pickup, req.Destination, rt, nil)
}

func (e *Engine) price(ctx context.Context, pickup, destination string, rt models.RideType, fixed *float64) (Quote, error) {
	pc, err := e.geocode(ctx, "pickup", pickup)
	if err != nil {
		return Quote{}, err
	}
	dc, err := e.geocode(ctx, "destination", destination)
	if err != nil {
		return Quote{}, err
	}
	route, err := e.maps.Route(ctx, pc, dc)
	switch {
	case errors.Is(err, maps.ErrNoRoute):
		return Quote{}, upstreamFinal("no_route", "no drivable route between pickup and destination", err)
	case err != nil:
		return Quote{}, apperr.Upstream("maps_unavailable", "route lookup failed, try again", err)
	}
	if !finite(route.DistanceKm) || !finite(route.DurationMinutes) || route.DistanceKm < 0 || route.DurationMinutes < 0 {
		return Quote{}, upstreamFinal("bad_route", "route provider returned an unusable route", nil)
	}
	q := Quote{
		RideType:          rt,
		PickupCoords:      pc,
		DestinationCoords: dc,
		DistanceKm:        route.DistanceKm,
		DurationMinutes:   route.DurationMinutes,
		Currency:          e.fares.Currency,
	}
	if fixed != nil {
		q.Fare = *fixed
		return q, nil
	}
	q.Fare, err = e.fares.Quote(rt, route.DistanceKm, route.DurationMinutes)
	if err != nil {
		return Quote{}, apperr.Validation("invalid_fare_input", err.Error())
	}
	return q, nil
}

func (e *Engine) geocode(ctx context.Context, field, address string) (models.Coord, error) {
	c, err := e.maps.Geocode(ctx, address)
	switch {
	case errors.Is(err, maps.ErrAddressNotFound):
		return c, upstreamFinal(field+"_not_found", fmt.Sprintf("could not find %s address %q", field, address), err)
	case err != nil:
		return c, apperr.Upstream("maps_unavailable", "address lookup failed, try again", err)
	case !c.Valid():
		return c, upstreamFinal(field+"_not_found", fmt.Sprintf("could not resolve %s address %q", field, address), nil)
	}
	return c, nil
}

// Autocomplete suggests addresses for a partially typed pickup or
// destination.
func (e *Engine) Autocomplete(ctx context.Context, input string) ([]maps.Suggestion, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, apperr.Validation("missing_input", "input is required")
	}
	if e.places == nil {
		return nil, upstreamFinal("autocomplete_unavailable", "address suggestions are not configured", nil)
	}
	out, err := e.places.Autocomplete(ctx, input)
	if err != nil {
		return nil, apperr.Upstream("maps_unavailable", "address suggestions failed, try again", err)
	}
	if out == nil {
		out = []maps.Suggestion{}
	}
	return out, nil
}

// Book validates, prices and creates a ride, then offers it to candidates.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (*models.Ride, error) {
	start := e.now()
	ride, err := e.book(ctx, req)
	if err != nil {
		observability.BookingFailures.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	observability.MatchLatency.Observe(e.now().Sub(start).Seconds())
	return ride, nil
}

func (e *Engine) book(ctx context.Context, req BookingRequest) (*models.Ride, error) {
	rt, err := validateTrip(req.Pickup, req.Destination, req.RideType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RiderID) == "" {
		return nil, apperr.Validation("missing_rider", "rider_id is required")
	}
	if req.Fare != nil && (!finite(*req.Fare) || *req.Fare <= 0) {
		return nil, apperr.Validation("invalid_fare", "fare must be a positive number")
	}

	q, err := e.price(ctx, req.Pickup, req.Destination, rt, req.Fare)
	if err != nil {
		return nil, err
	}

	ranked, err := e.candidates(ctx, q.PickupCoords)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, apperr.NoCapacity("no drivers available nearby, try again shortly")
	}

	draft := &models.Ride{
		RiderID:           strings.TrimSpace(req.RiderID),
		Passengers:        req.Passengers,
		Pickup:            strings.TrimSpace(req.Pickup),
		Destination:       strings.TrimSpace(req.Destination),
		PickupCoords:      q.PickupCoords,
		DestinationCoords: q.DestinationCoords,
		DistanceKm:        q.DistanceKm,
		DurationMinutes:   q.DurationMinutes,
		RideType:          rt,
		BasePrice:         q.Fare,
	}
	if e.policy == SingleAssign {
		draft.DriverID = ranked[0].Driver.ID
	}
	ride, err := e.store.Create(ctx, draft, e.policy.initialStatus())
	if err != nil {
		return nil, apperr.Internal("could not create ride", err)
	}

	offer := Offer{RideID: ride.ID, Policy: e.policy, CreatedAt: e.now()}
	for _, r := range ranked {
		offer.Candidates = append(offer.Candidates, Candidate{DriverID: r.Driver.ID, DistanceKm: r.DistanceKm})
	}
	e.offers.Put(offer)
	observability.RidesBooked.WithLabelValues(string(e.policy), string(rt)).Inc()
	e.publish(ctx, events.RideCreated, ride)
	e.logger.Info("ride booked", "ride_id", ride.ID, "policy", e.policy, "candidates", len(ranked), "fare", ride.BasePrice)

	if e.policy == SingleAssign {
		e.sendOffer(ctx, ride, offer.Candidates[0])
	} else {
		for _, c := range offer.Candidates {
			e.sendOffer(ctx, ride, c)
		}
	}
	return ride, nil
}

// candidates returns the first non-empty distance tier of active drivers
// that are not currently busy with a ride.
func (e *Engine) candidates(ctx context.Context, origin models.Coord) ([]geo.Ranked, error) {
	engaged, err := e.store.FindByStatus(ctx, models.EngagedStatuses...)
	if err != nil {
		return nil, apperr.Internal("could not load engaged drivers", err)
	}
	busy := make(map[string]bool, len(engaged))
	for _, r := range engaged {
		if r.DriverID != "" {
			busy[r.DriverID] = true
		}
	}
	active, err := roster.Candidates(ctx, e.roster, origin, e.maxRadius())
	if err != nil {
		return nil, apperr.Upstream("roster_unavailable", "driver roster unavailable, try again", err)
	}
	pool := active[:0:0]
	for _, d := range active {
		if !busy[d.ID] {
			pool = append(pool, d)
		}
	}
	return geo.Rank(origin, pool, e.radiiKm), nil
}

func (e *Engine) maxRadius() float64 {
	max := 0.0
	for _, r := range e.radiiKm {
		if r > max {
			max = r
		}
	}
	return max
}

func (e *Engine) sendOffer(ctx context.Context, ride *models.Ride, c Candidate) {
	o := notify.Offer{Ride: ride, DistanceKm: c.DistanceKm, PickupETAMinutes: geo.ETAMinutes(c.DistanceKm, e.speedKmh)}
	n := notify.RideOffer(o)
	if ride.Status == models.StatusRequested {
		n = notify.RideAssigned(o)
	}
	delivered := e.notifier.ToDriver(ctx, c.DriverID, n)
	observability.OffersSent.WithLabelValues(fmt.Sprint(delivered)).Inc()
}

// Accept resolves a driver's claim on a ride. won is false when another
// driver got there first, the ride left the offer phase, or the ride was
// never on offer to this driver; the loser is told rideTaken and no error is
// returned. A driver already engaged on another ride gets driver_engaged.
func (e *Engine) Accept(ctx context.Context, driverID, rideID string) (ride *models.Ride, won bool, err error) {
	if o, ok := e.offers.Get(rideID); ok && !o.has(driverID) {
		e.acceptLost(ctx, driverID, rideID, "not_offered")
		return nil, false, nil
	}
	busy, err := e.engaged(ctx, driverID)
	if err != nil {
		return nil, false, apperr.Internal("could not accept ride", err)
	}
	if busy {
		observability.AcceptOutcomes.WithLabelValues("engaged").Inc()
		return nil, false, apperr.InvalidAction("driver_engaged", "finish your current ride before accepting another", false)
	}

	ride, err = e.store.ConditionalTransition(ctx, rideID,
		storage.Guard{From: models.OfferStatuses, Driver: storage.AssignedToOrUnassigned, DriverID: driverID, NotRejectedBy: driverID},
		storage.Change{To: models.StatusAccepted, SetDriver: true, DriverID: driverID, At: e.now()})
	if errors.Is(err, storage.ErrNotFound) {
		e.acceptLost(ctx, driverID, rideID, "lost")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Internal("could not accept ride", err)
	}

	observability.AcceptOutcomes.WithLabelValues("won").Inc()
	observability.Transitions.WithLabelValues(string(ride.Status)).Inc()
	e.logger.Info("ride accepted", "ride_id", ride.ID, "driver_id", driverID)
	e.publish(ctx, events.RideAccepted, ride)

	n := notify.ForRide(notify.EventRideAccepted, ride)
	e.notifier.ToDriver(ctx, driverID, n)
	for _, id := range lifecycle.Riders(ride) {
		e.notifier.ToRider(ctx, id, n)
	}
	for _, other := range e.offers.Accept(ride.ID, driverID) {
		e.notifier.ToDriver(ctx, other, notify.RideTaken(ride.ID))
	}
	return ride, true, nil
}

// Reject records a driver declining a ride. Broadcast rides exhaust to
// no_drivers_available once every candidate declined; single-assign rides
// move to the next candidate in line.
func (e *Engine) Reject(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	policy := e.policy
	if o, ok := e.offers.Get(rideID); ok {
		policy = o.Policy
	}
	if policy == SingleAssign {
		return e.reassign(ctx, driverID, rideID)
	}

	ride, err := e.store.ConditionalTransition(ctx, rideID,
		storage.Guard{From: []models.RideStatus{models.StatusPending}, Driver: storage.Unassigned},
		storage.Change{Reject: driverID, At: e.now()})
	if err != nil {
		return nil, e.rejectFailed(ctx, rideID, err)
	}
	e.publish(ctx, events.RideRejected, ride)

	remaining, known := e.offers.Reject(rideID, driverID)
	if !known || remaining > 0 {
		return ride, nil
	}
	exhausted, err := e.store.ConditionalTransition(ctx, rideID,
		storage.Guard{From: []models.RideStatus{models.StatusPending}, Driver: storage.Unassigned},
		storage.Change{To: models.StatusNoDriversAvailable, At: e.now()})
	if errors.Is(err, storage.ErrNotFound) {
		// accepted or cancelled in between
		return ride, nil
	}
	if err != nil {
		return nil, apperr.Internal("could not update ride", err)
	}
	e.exhausted(ctx, exhausted)
	return exhausted, nil
}

func (e *Engine) acceptLost(ctx context.Context, driverID, rideID, outcome string) {
	observability.AcceptOutcomes.WithLabelValues(outcome).Inc()
	e.logger.Debug("accept lost", "ride_id", rideID, "driver_id", driverID, "outcome", outcome)
	e.notifier.ToDriver(ctx, driverID, notify.RideTaken(rideID))
}

// engaged reports whether the driver holds an accepted, arrived or ongoing ride.
func (e *Engine) engaged(ctx context.Context, driverID string) (bool, error) {
	rides, err := e.store.FindByParticipant(ctx, storage.Participant{Role: storage.RoleDriver, ID: driverID}, models.EngagedStatuses...)
	if err != nil {
		return false, err
	}
	return len(rides) > 0, nil
}

// reassign hands a single-assign ride to the next cached candidate that is
// still free. The offer table only changes once the store agreed.
func (e *Engine) reassign(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	fallbacks, known := e.offers.Fallbacks(rideID, driverID)
	var next Candidate
	hasNext := false
	skipped := []string{}
	for _, c := range fallbacks {
		busy, err := e.engaged(ctx, c.DriverID)
		if err != nil {
			return nil, apperr.Internal("could not reassign ride", err)
		}
		if !busy {
			next, hasNext = c, true
			break
		}
		skipped = append(skipped, c.DriverID)
	}

	c := storage.Change{Reject: driverID, SetDriver: true, At: e.now()}
	if hasNext {
		c.DriverID = next.DriverID
	} else {
		// no free fallback left, or this instance never saw the offer
		c.To = models.StatusNoDriversAvailable
	}
	ride, err := e.store.ConditionalTransition(ctx, rideID,
		storage.Guard{From: []models.RideStatus{models.StatusRequested}, Driver: storage.AssignedTo, DriverID: driverID}, c)
	if err != nil {
		return nil, e.rejectFailed(ctx, rideID, err)
	}
	if !hasNext {
		if known {
			e.offers.Discard(rideID)
		}
		e.exhausted(ctx, ride)
		return ride, nil
	}
	e.offers.Reject(rideID, append(skipped, driverID)...)
	if len(skipped) > 0 {
		e.logger.Info("skipped engaged fallbacks", "ride_id", ride.ID, "skipped", skipped)
	}
	e.logger.Info("ride reassigned", "ride_id", ride.ID, "from", driverID, "to", next.DriverID)
	e.publish(ctx, events.RideReoffered, ride)
	e.sendOffer(ctx, ride, next)
	return ride, nil
}

func (e *Engine) exhausted(ctx context.Context, ride *models.Ride) {
	e.offers.Discard(ride.ID)
	observability.Transitions.WithLabelValues(string(ride.Status)).Inc()
	e.logger.Info("ride exhausted", "ride_id", ride.ID, "rejected_by", len(ride.RejectedBy))
	e.publish(ctx, events.RideNoDrivers, ride)
	for _, id := range lifecycle.Riders(ride) {
		e.notifier.ToRider(ctx, id, notify.NoDriversAvailable(ride.ID))
	}
}

func (e *Engine) rejectFailed(ctx context.Context, rideID string, err error) error {
	if !errors.Is(err, storage.ErrNotFound) {
		return apperr.Internal("could not update ride", err)
	}
	if _, gerr := e.store.Get(ctx, rideID); errors.Is(gerr, storage.ErrNotFound) {
		return apperr.NotFound("ride_not_found", "ride not found")
	}
	return apperr.InvalidAction("ride_unavailable", "ride is no longer on offer to this driver", false)
}

// Cancel cancels through the lifecycle and withdraws any open offer.
func (e *Engine) Cancel(ctx context.Context, actor storage.Participant, rideID, reason string) (*models.Ride, error) {
	ride, err := e.lifecycle.Cancel(ctx, actor, rideID, reason)
	if err != nil {
		return nil, err
	}
	for _, id := range e.offers.Discard(rideID) {
		if id != ride.DriverID {
			e.notifier.ToDriver(ctx, id, notify.ForRide(notify.EventRideCancelled, ride))
		}
	}
	return ride, nil
}

// ResyncDriver re-delivers what a (re)connecting driver should know: rides
// assigned to them that are still open, and broadcast offers that still
// list them. It returns how many notifications were sent.
func (e *Engine) ResyncDriver(ctx context.Context, driverID string) (int, error) {
	rides, err := e.store.FindByParticipant(ctx, storage.Participant{Role: storage.RoleDriver, ID: driverID},
		models.StatusRequested, models.StatusAccepted, models.StatusArrived, models.StatusOngoing)
	if err != nil {
		return 0, apperr.Internal("could not load driver rides", err)
	}
	sent := 0
	for _, r := range rides {
		if r.Status == models.StatusRequested {
			e.sendOffer(ctx, r, e.candidateFor(r.ID, driverID))
		} else {
			e.notifier.ToDriver(ctx, driverID, notify.ForRide(statusEvent(r.Status), r))
		}
		sent++
	}
	for _, o := range e.offers.ForDriver(driverID) {
		if o.Policy != Broadcast {
			continue
		}
		r, err := e.store.Get(ctx, o.RideID)
		if err != nil || r.Status != models.StatusPending || r.RejectedByDriver(driverID) {
			continue
		}
		e.sendOffer(ctx, r, e.candidateFor(r.ID, driverID))
		sent++
	}
	if sent > 0 {
		e.logger.Info("driver resynced", "driver_id", driverID, "rides", sent)
	}
	return sent, nil
}

// ResyncRider re-delivers the current state of a rider's open rides.
func (e *Engine) ResyncRider(ctx context.Context, riderID string) (int, error) {
	rides, err := e.store.FindByParticipant(ctx, storage.Participant{Role: storage.RoleRider, ID: riderID}, models.OpenStatuses...)
	if err != nil {
		return 0, apperr.Internal("could not load rider rides", err)
	}
	for _, r := range rides {
		e.notifier.ToRider(ctx, riderID, notify.ForRide(statusEvent(r.Status), r))
	}
	return len(rides), nil
}

func (e *Engine) candidateFor(rideID, driverID string) Candidate {
	if o, ok := e.offers.Get(rideID); ok {
		for _, c := range o.Candidates {
			if c.DriverID == driverID {
				return c
			}
		}
	}
	return Candidate{DriverID: driverID}
}

// statusEvent is the outbound event that describes a ride in status s.
func statusEvent(s models.RideStatus) string {
	switch s {
	case models.StatusPending:
		return notify.EventRideOffer
	case models.StatusRequested:
		return notify.EventRideAssigned
	case models.StatusAccepted:
		return notify.EventRideAccepted
	case models.StatusArrived:
		return notify.EventDriverArrived
	case models.StatusOngoing:
		return notify.EventRideOngoing
	case models.StatusCompleted:
		return notify.EventRideCompleted
	case models.StatusCancelled:
		return notify.EventRideCancelled
	default:
		return notify.EventNoDriversAvailable
	}
}

// ReportLocation records a driver's position in the roster (when writable)
// and forwards it to the location stream.
func (e *Engine) ReportLocation(ctx context.Context, driverID string, loc models.Coord, active bool) error {
	if driverID == "" {
		return apperr.Validation("missing_driver", "driver id is required")
	}
	if !loc.Valid() {
		return apperr.Validation("invalid_location", "location must be a valid, non-zero coordinate")
	}
	d := models.Driver{ID: driverID, Loc: loc, Active: active, Updated: e.now()}
	if w, ok := e.roster.(roster.Writer); ok {
		if err := w.Move(ctx, driverID, loc, active); err != nil {
			return apperr.Internal("could not update roster", err)
		}
	}
	if err := e.locations.PublishLocation(ctx, d); err != nil {
		e.logger.Warn("publish location failed", "driver_id", driverID, "error", err)
	}
	return nil
}

func (e *Engine) Ride(ctx context.Context, id string) (*models.Ride, error) {
	r, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("ride_not_found", "ride not found")
	}
	if err != nil {
		return nil, apperr.Internal("could not load ride", err)
	}
	return r, nil
}

func (e *Engine) RidesFor(ctx context.Context, p storage.Participant) ([]*models.Ride, error) {
	rides, err := e.store.FindByParticipant(ctx, p)
	if err != nil {
		return nil, apperr.Internal("could not load rides", err)
	}
	return rides, nil
}

func (e *Engine) ActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	ds, err := e.roster.ListActive(ctx)
	if err != nil {
		return nil, apperr.Upstream("roster_unavailable", "driver roster unavailable, try again", err)
	}
	observability.DriversOnline.Set(float64(len(ds)))
	return ds, nil
}

func (e *Engine) publish(ctx context.Context, typ string, ride *models.Ride) {
	if err := e.events.PublishRide(ctx, events.FromRide(typ, ride)); err != nil {
		e.logger.Warn("publish ride event failed", "type", typ, "ride_id", ride.ID, "error", err)
	}
}

func validateTrip(pickup, destination, rideType string) (models.RideType, error) {
	if strings.TrimSpace(pickup) == "" {
		return "", apperr.Validation("missing_pickup", "pickup is required")
	}
	if strings.TrimSpace(destination) == "" {
		return "", apperr.Validation("missing_destination", "destination is required")
	}
	if strings.TrimSpace(rideType) == "" {
		return "", apperr.Validation("missing_ride_type", "ride_type is required")
	}
	rt, ok := models.ParseRideType(rideType)
	if !ok {
		return "", apperr.Validation("invalid_ride_type", fmt.Sprintf("unknown ride type %q", rideType))
	}
	return rt, nil
}

// upstreamFinal is a provider answer that retrying will not change.
func upstreamFinal(code, msg string, err error) *apperr.Error {
	e := apperr.Upstream(code, msg, err)
	e.Retryable = false
	return e
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
