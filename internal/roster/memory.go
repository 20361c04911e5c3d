package roster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Memory keeps the roster in process. Good for a single instance and tests.
type Memory struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{drivers: make(map[string]models.Driver), now: time.Now}
}

func (m *Memory) Upsert(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Updated = m.now()
	m.drivers[d.ID] = d
	m.updateGauge()
	return nil
}

func (m *Memory) Move(_ context.Context, id string, loc models.Coord, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drivers[id]
	d.ID, d.Loc, d.Active, d.Updated = id, loc, active, m.now()
	m.drivers[id] = d
	m.updateGauge()
	return nil
}

func (m *Memory) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrUnknownDriver
	}
	d.Active = active
	d.Updated = m.now()
	m.drivers[id] = d
	m.updateGauge()
	return nil
}

// ListActive returns active drivers ordered by id.
func (m *Memory) ListActive(_ context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// caller holds m.mu
func (m *Memory) updateGauge() {
	n := 0
	for _, d := range m.drivers {
		if d.Active {
			n++
		}
	}
	observability.DriversOnline.Set(float64(n))
}
