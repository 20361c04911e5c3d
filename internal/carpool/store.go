package carpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists rooms. Update and Delete run fn against the current room
// while holding it exclusively; an error from fn aborts the write and is
// returned unchanged.
type Store interface {
	Create(ctx context.Context, r *Room) (*Room, error)
	Get(ctx context.Context, id string) (*Room, error)
	Update(ctx context.Context, id string, fn func(*Room) error) (*Room, error)
	Delete(ctx context.Context, id string, fn func(*Room) error) (*Room, error)
	// List returns rooms in the given statuses ordered by departure time.
	List(ctx context.Context, statuses ...Status) ([]*Room, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room), now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, draft *Room) (*Room, error) {
	r := draft.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Passengers == nil {
		r.Passengers = []Seat{}
	}
	r.CreatedAt = m.now()
	r.UpdatedAt = r.CreatedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return nil, ErrDuplicate
	}
	m.rooms[r.ID] = r
	return r.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Room) error) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	m.rooms[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string, fn func(*Room) error) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	if fn != nil {
		if err := fn(cur.Clone()); err != nil {
			return nil, err
		}
	}
	delete(m.rooms, id)
	return cur.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, statuses ...Status) ([]*Room, error) {
	m.mu.Lock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if len(statuses) == 0 || hasStatus(statuses, r.Status) {
			out = append(out, r.Clone())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureTime.Equal(out[j].DepartureTime) {
			return out[i].DepartureTime.Before(out[j].DepartureTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(set []Status, s Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
