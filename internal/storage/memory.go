package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides in process memory. Its single lock is the
// serialization point for ConditionalTransition, which makes it a faithful
// RideStore for one process and for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride), now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, draft *models.Ride, initial models.RideStatus) (*models.Ride, error) {
	r := draft.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := m.now()
	r.Status = initial
	r.RequestedAt = &now
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.RejectedBy == nil {
		r.RejectedBy = []string{}
	}
	if r.Passengers == nil {
		r.Passengers = []models.Passenger{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rides[r.ID]; exists {
		return nil, ErrDuplicateID
	}
	m.rides[r.ID] = r
	return r.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ConditionalTransition(ctx context.Context, id string, g Guard, c Change) (*models.Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.At.IsZero() {
		c.At = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok || !g.matches(r) {
		return nil, ErrNotFound
	}
	c.apply(r)
	return r.Clone(), nil
}

func (m *MemoryStore) FindByParticipant(ctx context.Context, p Participant, statuses ...models.RideStatus) ([]*models.Ride, error) {
	return m.filter(func(r *models.Ride) bool {
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			return false
		}
		if p.Role == RoleDriver {
			return r.DriverID == p.ID
		}
		return r.HasPassenger(p.ID)
	}), nil
}

func (m *MemoryStore) FindByStatus(ctx context.Context, statuses ...models.RideStatus) ([]*models.Ride, error) {
	return m.filter(func(r *models.Ride) bool {
		return len(statuses) == 0 || containsStatus(statuses, r.Status)
	}), nil
}

// filter returns matching rides oldest first.
func (m *MemoryStore) filter(keep func(*models.Ride) bool) []*models.Ride {
	m.mu.RLock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
