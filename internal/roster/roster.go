// Package roster is the source of truth for which drivers are online and
// where they were last seen. The dispatch engine only reads from it.
package roster

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrUnknownDriver = errors.New("unknown driver")

// Roster lists drivers that are currently able to take rides.
type Roster interface {
	ListActive(ctx context.Context) ([]models.Driver, error)
}

// Nearby is implemented by rosters that can narrow the candidate set
// themselves. Results are still ranked by the engine.
type Nearby interface {
	ListActiveNear(ctx context.Context, origin models.Coord, radiusKm float64) ([]models.Driver, error)
}

// Writer accepts location and availability updates. Upsert writes the whole
// record, rating included; Move is the location ping and never touches the
// rating, creating the driver unrated when it is new.
type Writer interface {
	Upsert(ctx context.Context, d models.Driver) error
	Move(ctx context.Context, id string, loc models.Coord, active bool) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ReadWriter is what the server wires: the engine reads, the gateway and the
// location endpoint write.
type ReadWriter interface {
	Roster
	Writer
}

// Candidates asks r for drivers within radiusKm of origin, using the Nearby
// fast path when r has one.
func Candidates(ctx context.Context, r Roster, origin models.Coord, radiusKm float64) ([]models.Driver, error) {
	if n, ok := r.(Nearby); ok && radiusKm > 0 {
		return n.ListActiveNear(ctx, origin, radiusKm)
	}
	return r.ListActive(ctx)
}
