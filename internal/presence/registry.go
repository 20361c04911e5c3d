package presence

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Namespaces used by the gateway. Driver and rider ids may be drawn from the
// same identifier space, so each lives in its own registry.
const (
	Drivers = "driver"
	Riders  = "rider"
)

// Handle identifies one live connection.
type Handle string

// Entry is what the registry knows about a connected participant.
type Entry struct {
	Handle    Handle
	Loc       models.Coord
	Available bool
	Updated   time.Time
}

// Registry maps participant ids to their live connection and back.
// It is safe for concurrent use.
type Registry struct {
	namespace string

	mu     sync.RWMutex
	byID   map[string]Entry
	byConn map[Handle]string
}

func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		byID:      make(map[string]Entry),
		byConn:    make(map[Handle]string),
	}
}

func (r *Registry) Namespace() string { return r.namespace }

// Register binds id to h. A previous handle for id becomes stale and is
// forgotten, as is any other id previously bound to h.
func (r *Registry) Register(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[id]; ok && prev.Handle != h {
		delete(r.byConn, prev.Handle)
	}
	if other, ok := r.byConn[h]; ok && other != id {
		delete(r.byID, other)
	}
	e := r.byID[id]
	e.Handle = h
	e.Available = true
	e.Updated = time.Now()
	r.byID[id] = e
	r.byConn[h] = id
	observability.PresenceConnected.WithLabelValues(r.namespace).Set(float64(len(r.byID)))
}

func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e.Handle, ok
}

// Get returns the full presence entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// IdentityOf is the reverse lookup without removal.
func (r *Registry) IdentityOf(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[h]
	return id, ok
}

// RemoveByConnection drops whoever is bound to h. Stale handles (superseded
// by a newer registration) resolve to nothing.
func (r *Registry) RemoveByConnection(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[h]
	if !ok {
		return "", false
	}
	delete(r.byConn, h)
	if e, ok := r.byID[id]; ok && e.Handle == h {
		delete(r.byID, id)
	}
	observability.PresenceConnected.WithLabelValues(r.namespace).Set(float64(len(r.byID)))
	return id, true
}

// UpdateLocation records a location ping. It returns false when id is not
// connected; pings from unregistered connections are ignored.
func (r *Registry) UpdateLocation(id string, loc models.Coord, available bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.Loc = loc
	e.Available = available
	e.Updated = time.Now()
	r.byID[id] = e
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
