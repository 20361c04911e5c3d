package dispatch

import (
	"sync"
	"time"
)

// Candidate is one driver an offer went to.
type Candidate struct {
	DriverID   string
	DistanceKm float64
}

// Offer tracks a ride while it looks for a driver. It is a process-local
// cache for notifications; the store decides who wins.
type Offer struct {
	RideID     string
	Policy     Policy
	CreatedAt  time.Time
	Candidates []Candidate // single-assign: head is the assigned driver
	AcceptedBy string
}

func (o Offer) has(driverID string) bool {
	for _, c := range o.Candidates {
		if c.DriverID == driverID {
			return true
		}
	}
	return false
}

func (o Offer) clone() Offer {
	o.Candidates = append([]Candidate(nil), o.Candidates...)
	return o
}

// OfferTable holds open offers by ride id. Safe for concurrent use.
type OfferTable struct {
	mu     sync.Mutex
	offers map[string]*Offer
}

func NewOfferTable() *OfferTable {
	return &OfferTable{offers: make(map[string]*Offer)}
}

func (t *OfferTable) Put(o Offer) {
	o = o.clone()
	t.mu.Lock()
	t.offers[o.RideID] = &o
	t.mu.Unlock()
}

func (t *OfferTable) Get(rideID string) (Offer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.offers[rideID]
	if !ok {
		return Offer{}, false
	}
	return o.clone(), true
}

// Reject drops the given drivers from the candidates and returns how many
// remain. ok is false when the table has no record of the ride.
func (t *OfferTable) Reject(rideID string, driverIDs ...string) (remaining int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.offers[rideID]
	if !ok {
		return 0, false
	}
	for _, id := range driverIDs {
		o.Candidates = without(o.Candidates, id)
	}
	return len(o.Candidates), true
}

// Fallbacks returns the candidates after driverID, in order, without
// changing the table. ok is false when the table has no record of the ride.
func (t *OfferTable) Fallbacks(rideID, driverID string) (rest []Candidate, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.offers[rideID]
	if !ok {
		return nil, false
	}
	for _, c := range o.Candidates {
		if c.DriverID != driverID {
			rest = append(rest, c)
		}
	}
	return rest, true
}

// Accept records the winner and removes the offer, returning the other
// candidates. A winner, once recorded, is never replaced.
func (t *OfferTable) Accept(rideID, driverID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.offers[rideID]
	if !ok {
		return nil
	}
	if o.AcceptedBy != "" && o.AcceptedBy != driverID {
		return nil
	}
	o.AcceptedBy = driverID
	delete(t.offers, rideID)
	var others []string
	for _, c := range o.Candidates {
		if c.DriverID != driverID {
			others = append(others, c.DriverID)
		}
	}
	return others
}

// Discard removes the offer and returns every candidate still listed.
func (t *OfferTable) Discard(rideID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.offers[rideID]
	if !ok {
		return nil
	}
	delete(t.offers, rideID)
	ids := make([]string, len(o.Candidates))
	for i, c := range o.Candidates {
		ids[i] = c.DriverID
	}
	return ids
}

// ForDriver returns the open offers that still list driverID.
func (t *OfferTable) ForDriver(driverID string) []Offer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Offer
	for _, o := range t.offers {
		if o.AcceptedBy == "" && o.has(driverID) {
			out = append(out, o.clone())
		}
	}
	return out
}

func (t *OfferTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.offers)
}

func without(cs []Candidate, driverID string) []Candidate {
	out := cs[:0]
	for _, c := range cs {
		if c.DriverID != driverID {
			out = append(out, c)
		}
	}
	return out
}
