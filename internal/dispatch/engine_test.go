package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/roster"
	"github.com/example/ride-dispatch/internal/storage"
)

var yaba = models.Coord{Lat: 6.5095, Lng: 3.3711}

// north returns a point roughly km kilometres north of c.
func north(c models.Coord, km float64) models.Coord {
	return models.Coord{Lat: c.Lat + km/111.195, Lng: c.Lng}
}

type fakeMaps struct {
	coords   map[string]models.Coord
	route    models.Route
	geoErr   error
	routeErr error
}

func (f *fakeMaps) Geocode(ctx context.Context, address string) (models.Coord, error) {
	if f.geoErr != nil {
		return models.Coord{}, f.geoErr
	}
	c, ok := f.coords[address]
	if !ok {
		return models.Coord{}, maps.ErrAddressNotFound
	}
	return c, nil
}

func (f *fakeMaps) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	return f.route, f.routeErr
}

type sent struct {
	role, id string
	n        notify.Notification
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) ToDriver(ctx context.Context, id string, n notify.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{"driver", id, n})
	return true
}

func (r *recorder) ToRider(ctx context.Context, id string, n notify.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{"rider", id, n})
	return true
}

func (r *recorder) count(role, id, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.role == role && m.id == id && m.n.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

type harness struct {
	engine *Engine
	store  *storage.MemoryStore
	roster *roster.Memory
	maps   *fakeMaps
	rec    *recorder
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		store:  storage.NewMemoryStore(),
		roster: roster.NewMemory(),
		maps: &fakeMaps{
			coords: map[string]models.Coord{"Yaba": yaba, "Ikeja": north(yaba, 12)},
			route:  models.Route{DistanceKm: 10, DurationMinutes: 20},
		},
		rec: &recorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := lifecycle.New(h.store, h.rec, lifecycle.WithLogger(logger))
	h.engine = New(h.store, h.maps, h.roster, h.rec, lc, WithPolicy(policy), WithLogger(logger))
	return h
}

func (h *harness) driver(t *testing.T, id string, km float64) {
	t.Helper()
	if err := h.roster.Upsert(context.Background(), models.Driver{ID: id, Loc: north(yaba, km), Rating: 4.5, Active: true}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) book(t *testing.T) *models.Ride {
	t.Helper()
	r, err := h.engine.Book(context.Background(), BookingRequest{RiderID: "rider-1", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return r
}

func TestBookValidation(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "d1", 1)
	cases := []struct {
		req  BookingRequest
		code string
	}{
		{BookingRequest{RiderID: "u", Destination: "Ikeja", RideType: "standard"}, "missing_pickup"},
		{BookingRequest{RiderID: "u", Pickup: "Yaba", RideType: "standard"}, "missing_destination"},
		{BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja"}, "missing_ride_type"},
		{BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "helicopter"}, "invalid_ride_type"},
		{BookingRequest{Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"}, "missing_rider"},
	}
	for _, tc := range cases {
		_, err := h.engine.Book(context.Background(), tc.req)
		e := apperr.As(err)
		if e == nil || e.Kind != apperr.KindValidation || e.Code != tc.code {
			t.Fatalf("%+v: expected %s, got %v", tc.req, tc.code, err)
		}
	}
	if rides, _ := h.store.FindByStatus(context.Background()); len(rides) != 0 {
		t.Fatalf("validation failures must not create rides, got %d", len(rides))
	}
}

func TestBookUpstreamFailures(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "d1", 1)
	ctx := context.Background()

	_, err := h.engine.Book(ctx, BookingRequest{RiderID: "u", Pickup: "Atlantis", Destination: "Ikeja", RideType: "standard"})
	if e := apperr.As(err); e.Kind != apperr.KindUpstream || e.Code != "pickup_not_found" || e.Retryable {
		t.Fatalf("expected terminal pickup_not_found, got %+v", e)
	}

	h.maps.routeErr = maps.ErrNoRoute
	_, err = h.engine.Book(ctx, BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if e := apperr.As(err); e.Code != "no_route" {
		t.Fatalf("expected no_route, got %+v", e)
	}

	h.maps.routeErr = nil
	h.maps.geoErr = errors.New("503 from provider")
	_, err = h.engine.Book(ctx, BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if e := apperr.As(err); e.Kind != apperr.KindUpstream || !e.Retryable {
		t.Fatalf("expected retryable upstream error, got %+v", e)
	}
	if rides, _ := h.store.FindByStatus(ctx); len(rides) != 0 {
		t.Fatalf("no ride may be created on upstream failure")
	}
}

func TestBookNoDrivers(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "far", 40)
	_, err := h.engine.Book(context.Background(), BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if e := apperr.As(err); e.Kind != apperr.KindNoCapacity || !e.Retryable {
		t.Fatalf("expected retryable no capacity, got %+v", e)
	}
	if rides, _ := h.store.FindByStatus(context.Background()); len(rides) != 0 {
		t.Fatalf("no ride may be created without drivers")
	}
}

func TestBroadcastOffersFirstTierOnly(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "near", 3)
	h.driver(t, "mid", 8)
	h.driver(t, "far", 12)

	r := h.book(t)
	if r.Status != models.StatusPending || r.DriverID != "" {
		t.Fatalf("broadcast ride should be pending without driver: %+v", r)
	}
	if h.rec.count("driver", "near", notify.EventRideOffer) != 1 {
		t.Fatalf("near driver not offered")
	}
	if h.rec.count("driver", "mid", notify.EventRideOffer)+h.rec.count("driver", "far", notify.EventRideOffer) != 0 {
		t.Fatalf("drivers outside the first tier must not be offered")
	}
	o, ok := h.engine.offers.Get(r.ID)
	if !ok || len(o.Candidates) != 1 || o.Candidates[0].DriverID != "near" {
		t.Fatalf("unexpected offer %+v", o)
	}
}

func TestQuoteEqualsBookedFare(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "d1", 1)
	q, err := h.engine.Quote(context.Background(), QuoteRequest{Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if err != nil {
		t.Fatal(err)
	}
	if q.Fare != 2450 {
		t.Fatalf("expected 2450, got %v", q.Fare)
	}
	r := h.book(t)
	if r.BasePrice != q.Fare || r.DistanceKm != 10 || r.DurationMinutes != 20 {
		t.Fatalf("booked ride disagrees with quote: %+v vs %+v", r, q)
	}
}

func TestSuppliedFareIsKept(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "d1", 1)
	fare := 3000.0
	r, err := h.engine.Book(context.Background(), BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "premium", Fare: &fare})
	if err != nil || r.BasePrice != 3000 {
		t.Fatalf("supplied fare: %+v %v", r, err)
	}
	bad := -1.0
	if _, err := h.engine.Book(context.Background(), BookingRequest{RiderID: "u", Pickup: "Yaba", Destination: "Ikeja", RideType: "premium", Fare: &bad}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("negative fare accepted: %v", err)
	}
}

func TestEngagedDriversAreExcluded(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "busy", 1)
	first := h.book(t)
	if _, won, _ := h.engine.Accept(context.Background(), "busy", first.ID); !won {
		t.Fatalf("busy should win its own ride")
	}
	_, err := h.engine.Book(context.Background(), BookingRequest{RiderID: "u2", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if apperr.KindOf(err) != apperr.KindNoCapacity {
		t.Fatalf("engaged driver must not be offered again, got %v", err)
	}
}

func TestAcceptRaceHasOneWinner(t *testing.T) {
	const n = 32
	h := newHarness(t, Broadcast)
	for i := 0; i < n; i++ {
		h.driver(t, fmt.Sprintf("d%02d", i), 1+float64(i)/10)
	}
	r := h.book(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := h.engine.Accept(context.Background(), id, r.ID)
			if err != nil {
				t.Errorf("lost race must not be an error: %v", err)
			}
			if won {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	got, _ := h.store.Get(context.Background(), r.ID)
	if got.Status != models.StatusAccepted || got.DriverID != winners[0] {
		t.Fatalf("store disagrees with winner: %+v", got)
	}
	if h.rec.count("driver", winners[0], notify.EventRideAccepted) != 1 || h.rec.count("rider", "rider-1", notify.EventRideAccepted) != 1 {
		t.Fatalf("winner and rider must be told")
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%02d", i)
		if id == winners[0] {
			continue
		}
		if h.rec.count("driver", id, notify.EventRideTaken) == 0 {
			t.Fatalf("loser %s was not told rideTaken", id)
		}
	}
}

func TestRejectionExhaustion(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	r := h.book(t)
	ctx := context.Background()

	got, err := h.engine.Reject(ctx, "A", r.ID)
	if err != nil || got.Status != models.StatusPending {
		t.Fatalf("first reject: %+v %v", got, err)
	}
	got, err = h.engine.Reject(ctx, "B", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusNoDriversAvailable || len(got.RejectedBy) != 2 {
		t.Fatalf("expected exhausted ride, got %+v", got)
	}
	if h.rec.count("rider", "rider-1", notify.EventNoDriversAvailable) != 1 {
		t.Fatalf("rider not told about exhaustion")
	}
	if _, ok := h.engine.offers.Get(r.ID); ok {
		t.Fatalf("offer should be discarded")
	}
}

func TestRejectThenAcceptKeepsRejection(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	r := h.book(t)
	ctx := context.Background()

	if _, err := h.engine.Reject(ctx, "A", r.ID); err != nil {
		t.Fatal(err)
	}
	got, won, err := h.engine.Accept(ctx, "B", r.ID)
	if err != nil || !won {
		t.Fatalf("B should win: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "B" || !got.RejectedByDriver("A") {
		t.Fatalf("unexpected ride %+v", got)
	}
	if _, err := h.engine.Reject(ctx, "A", r.ID); apperr.KindOf(err) != apperr.KindInvalidAction {
		t.Fatalf("rejecting an accepted ride should be an invalid action, got %v", err)
	}
}

func TestSingleAssignFallsBackOnRejection(t *testing.T) {
	h := newHarness(t, SingleAssign)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	ctx := context.Background()

	r := h.book(t)
	if r.Status != models.StatusRequested || r.DriverID != "A" {
		t.Fatalf("single-assign should assign nearest: %+v", r)
	}
	if h.rec.count("driver", "A", notify.EventRideAssigned) != 1 || h.rec.count("driver", "B", notify.EventRideAssigned) != 0 {
		t.Fatalf("only the assigned driver is notified")
	}
	if _, won, _ := h.engine.Accept(ctx, "B", r.ID); won {
		t.Fatalf("an unassigned driver must not take a single-assign ride")
	}

	got, err := h.engine.Reject(ctx, "A", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusRequested || got.DriverID != "B" || !got.RejectedByDriver("A") {
		t.Fatalf("expected reassignment to B, got %+v", got)
	}
	if h.rec.count("driver", "B", notify.EventRideAssigned) != 1 {
		t.Fatalf("B not told about the reassignment")
	}

	got, err = h.engine.Reject(ctx, "B", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusNoDriversAvailable || got.DriverID != "" {
		t.Fatalf("expected exhaustion, got %+v", got)
	}
}

func TestRejecterCannotAcceptLater(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	r := h.book(t)
	ctx := context.Background()

	if _, err := h.engine.Reject(ctx, "A", r.ID); err != nil {
		t.Fatal(err)
	}
	if _, won, err := h.engine.Accept(ctx, "A", r.ID); err != nil || won {
		t.Fatalf("a driver who declined must not win: won=%v err=%v", won, err)
	}
	// without the local offer only the store guard stands in the way
	h.engine.offers.Discard(r.ID)
	if _, won, err := h.engine.Accept(ctx, "A", r.ID); err != nil || won {
		t.Fatalf("store must refuse a driver who declined: won=%v err=%v", won, err)
	}
	got, _ := h.store.Get(ctx, r.ID)
	if got.Status != models.StatusPending || got.DriverID != "" {
		t.Fatalf("ride should still be pending, got %+v", got)
	}
	if h.rec.count("driver", "A", notify.EventRideTaken) != 2 {
		t.Fatalf("A should be told the ride is gone each time")
	}
}

func TestAcceptRequiresOfferAndFreeDriver(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "FAR", 40)
	ctx := context.Background()
	r := h.book(t)

	if _, won, err := h.engine.Accept(ctx, "FAR", r.ID); err != nil || won {
		t.Fatalf("a driver who was never offered the ride must not win: won=%v err=%v", won, err)
	}

	// A takes the first ride, then a second ride is offered to B only
	if _, won, _ := h.engine.Accept(ctx, "A", r.ID); !won {
		t.Fatalf("A should win")
	}
	h.driver(t, "B", 2)
	second, err := h.engine.Book(ctx, BookingRequest{RiderID: "rider-2", Pickup: "Yaba", Destination: "Ikeja", RideType: "standard"})
	if err != nil {
		t.Fatal(err)
	}
	h.engine.offers.Discard(second.ID)
	_, won, err := h.engine.Accept(ctx, "A", second.ID)
	if won || err == nil || apperr.As(err).Code != "driver_engaged" {
		t.Fatalf("engaged driver must be refused, got won=%v err=%v", won, err)
	}
	got, _ := h.store.Get(ctx, second.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("second ride should still be pending, got %+v", got)
	}
}

func TestSingleAssignSkipsEngagedFallback(t *testing.T) {
	h := newHarness(t, SingleAssign)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	h.driver(t, "C", 3)
	ctx := context.Background()

	r := h.book(t)
	if r.DriverID != "A" {
		t.Fatalf("expected A assigned, got %+v", r)
	}
	// B gets engaged elsewhere while still cached as A's fallback
	other, err := h.store.Create(ctx, &models.Ride{RiderID: "rider-9", DriverID: "B"}, models.StatusRequested)
	if err != nil {
		t.Fatal(err)
	}
	if _, won, _ := h.engine.Accept(ctx, "B", other.ID); !won {
		t.Fatalf("B should take the other ride")
	}

	got, err := h.engine.Reject(ctx, "A", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DriverID != "C" || got.Status != models.StatusRequested {
		t.Fatalf("busy fallback must be skipped, got %+v", got)
	}
	o, ok := h.engine.offers.Get(r.ID)
	if !ok || len(o.Candidates) != 1 || o.Candidates[0].DriverID != "C" {
		t.Fatalf("offer should now list only C, got %+v", o)
	}
}

func TestFailedReassignKeepsFallbacks(t *testing.T) {
	h := newHarness(t, SingleAssign)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	ctx := context.Background()
	r := h.book(t)

	// a driver who is not assigned cannot hand the ride on
	if _, err := h.engine.Reject(ctx, "B", r.ID); apperr.KindOf(err) != apperr.KindInvalidAction {
		t.Fatalf("expected invalid action, got %v", err)
	}
	o, _ := h.engine.offers.Get(r.ID)
	if len(o.Candidates) != 2 {
		t.Fatalf("failed reassignment changed the offer: %+v", o.Candidates)
	}
	got, err := h.engine.Reject(ctx, "A", r.ID)
	if err != nil || got.DriverID != "B" {
		t.Fatalf("B should still be the fallback, got %+v %v", got, err)
	}
}

func TestSingleAssignAccept(t *testing.T) {
	h := newHarness(t, SingleAssign)
	h.driver(t, "A", 1)
	r := h.book(t)
	got, won, err := h.engine.Accept(context.Background(), "A", r.ID)
	if err != nil || !won || got.Status != models.StatusAccepted || got.AcceptedAt == nil {
		t.Fatalf("assigned driver should accept: %+v %v", got, err)
	}
}

func TestResyncDriver(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	ctx := context.Background()
	r := h.book(t)
	h.rec.reset()

	n, err := h.engine.ResyncDriver(ctx, "A")
	if err != nil || n != 1 || h.rec.count("driver", "A", notify.EventRideOffer) != 1 {
		t.Fatalf("pending offer not re-delivered: n=%d err=%v", n, err)
	}

	h.engine.Reject(ctx, "B", r.ID)
	h.rec.reset()
	if n, _ := h.engine.ResyncDriver(ctx, "B"); n != 0 {
		t.Fatalf("rejected offer must not be re-delivered, got %d", n)
	}

	h.engine.Accept(ctx, "A", r.ID)
	h.rec.reset()
	n, _ = h.engine.ResyncDriver(ctx, "A")
	if n != 1 || h.rec.count("driver", "A", notify.EventRideAccepted) != 1 {
		t.Fatalf("accepted ride not re-delivered")
	}
	if n, _ := h.engine.ResyncRider(ctx, "rider-1"); n != 1 {
		t.Fatalf("rider resync sent %d", n)
	}
}

func TestCancelWithdrawsOffer(t *testing.T) {
	h := newHarness(t, Broadcast)
	h.driver(t, "A", 1)
	h.driver(t, "B", 2)
	r := h.book(t)
	got, err := h.engine.Cancel(context.Background(), storage.Participant{Role: storage.RoleRider, ID: "rider-1"}, r.ID, "")
	if err != nil || got.Status != models.StatusCancelled {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	for _, id := range []string{"A", "B"} {
		if h.rec.count("driver", id, notify.EventRideCancelled) != 1 {
			t.Fatalf("candidate %s not told", id)
		}
	}
	if _, won, _ := h.engine.Accept(context.Background(), "A", r.ID); won {
		t.Fatalf("cancelled ride must not be accepted")
	}
}

func TestReportLocationUpdatesRoster(t *testing.T) {
	h := newHarness(t, Broadcast)
	ctx := context.Background()
	if err := h.engine.ReportLocation(ctx, "d1", north(yaba, 1), true); err != nil {
		t.Fatal(err)
	}
	ds, _ := h.engine.ActiveDrivers(ctx)
	if len(ds) != 1 || ds[0].ID != "d1" {
		t.Fatalf("roster not updated: %+v", ds)
	}
	if err := h.engine.ReportLocation(ctx, "d1", models.Coord{}, true); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("zero coordinate accepted: %v", err)
	}
	if _, err := h.engine.Ride(ctx, "nope"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocationPingKeepsRating(t *testing.T) {
	h := newHarness(t, Broadcast)
	ctx := context.Background()
	h.driver(t, "d1", 1)
	if err := h.engine.ReportLocation(ctx, "d1", north(yaba, 2), true); err != nil {
		t.Fatal(err)
	}
	ds, _ := h.engine.ActiveDrivers(ctx)
	if len(ds) != 1 || ds[0].Rating != 4.5 || ds[0].Loc != north(yaba, 2) {
		t.Fatalf("ping should move d1 and keep its rating, got %+v", ds)
	}
}

type fakePlaces struct {
	got []maps.Suggestion
	err error
}

func (f *fakePlaces) Autocomplete(ctx context.Context, input string) ([]maps.Suggestion, error) {
	return f.got, f.err
}

func TestAutocomplete(t *testing.T) {
	h := newHarness(t, Broadcast)
	ctx := context.Background()
	if _, err := h.engine.Autocomplete(ctx, "Yab"); apperr.KindOf(err) != apperr.KindUpstream || apperr.As(err).Retryable {
		t.Fatalf("unconfigured autocomplete should be a final upstream error, got %v", err)
	}

	places := &fakePlaces{}
	WithPlaces(places)(h.engine)
	if _, err := h.engine.Autocomplete(ctx, "  "); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("blank input accepted: %v", err)
	}
	got, err := h.engine.Autocomplete(ctx, "zzz")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("no match should be an empty list, got %+v %v", got, err)
	}
	places.got = []maps.Suggestion{{Description: "Yaba, Lagos", PlaceID: "p1"}}
	if got, _ := h.engine.Autocomplete(ctx, "Yab"); len(got) != 1 || got[0].PlaceID != "p1" {
		t.Fatalf("unexpected suggestions %+v", got)
	}
	places.err = errors.New("503")
	if _, err := h.engine.Autocomplete(ctx, "Yab"); !apperr.As(err).Retryable {
		t.Fatalf("provider failure should be retryable, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(" Single-Assign "); err != nil || p != SingleAssign {
		t.Fatalf("got %v %v", p, err)
	}
	if p, _ := ParsePolicy(""); p != Broadcast {
		t.Fatalf("default should be broadcast")
	}
	if _, err := ParsePolicy("lottery"); err == nil {
		t.Fatalf("expected error")
	}
}
