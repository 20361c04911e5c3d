package carpool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

const roomsSchema = `
CREATE TABLE IF NOT EXISTS carpool_rooms (
    id               TEXT PRIMARY KEY,
    driver_id        TEXT NOT NULL,
    route            TEXT NOT NULL,
    pickup           TEXT NOT NULL,
    destination      TEXT NOT NULL,
    pickup_lat       DOUBLE PRECISION NOT NULL,
    pickup_lng       DOUBLE PRECISION NOT NULL,
    dest_lat         DOUBLE PRECISION NOT NULL,
    dest_lng         DOUBLE PRECISION NOT NULL,
    price            DOUBLE PRECISION NOT NULL,
    ride_type        TEXT NOT NULL,
    max_passengers   INTEGER NOT NULL CHECK (max_passengers > 0),
    status           TEXT NOT NULL,
    passengers       JSONB NOT NULL DEFAULT '[]'::jsonb,
    departure_time   TIMESTAMPTZ NOT NULL,
    distance_km      DOUBLE PRECISION NOT NULL,
    duration_minutes DOUBLE PRECISION NOT NULL,
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS carpool_rooms_status_departure_idx ON carpool_rooms (status, departure_time);
`

const roomColumns = `id, driver_id, route, pickup, destination, pickup_lat, pickup_lng, dest_lat, dest_lng,
	price, ride_type, max_passengers, status, passengers, departure_time, distance_km, duration_minutes,
	started_at, completed_at, created_at, updated_at`

// Postgres stores rooms in the ride database. Update and Delete lock the row
// with SELECT ... FOR UPDATE so concurrent joins cannot oversell seats.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, roomsSchema)
	return err
}

func (p *Postgres) Create(ctx context.Context, draft *Room) (*Room, error) {
	r := draft.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Passengers == nil {
		r.Passengers = []Seat{}
	}
	seats, err := json.Marshal(r.Passengers)
	if err != nil {
		return nil, fmt.Errorf("encode passengers: %w", err)
	}
	now := time.Now().UTC()
	out, err := scanRoom(p.db.QueryRowContext(ctx, `INSERT INTO carpool_rooms(id, driver_id, route, pickup, destination,
		pickup_lat, pickup_lng, dest_lat, dest_lng, price, ride_type, max_passengers, status, passengers,
		departure_time, distance_km, duration_minutes, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
		RETURNING `+roomColumns,
		r.ID, r.DriverID, r.Route, r.Pickup, r.Destination,
		r.PickupCoords.Lat, r.PickupCoords.Lng, r.DestinationCoords.Lat, r.DestinationCoords.Lng,
		r.Price, string(r.RideType), r.MaxPassengers, string(r.Status), seats,
		r.DepartureTime, r.DistanceKm, r.DurationMinutes, now))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*Room, error) {
	r, err := scanRoom(p.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM carpool_rooms WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room %s: %w", id, err)
	}
	return r, nil
}

func (p *Postgres) Update(ctx context.Context, id string, fn func(*Room) error) (*Room, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	r, err := lockRoom(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	seats, err := json.Marshal(r.Passengers)
	if err != nil {
		return nil, fmt.Errorf("encode passengers: %w", err)
	}
	out, err := scanRoom(tx.QueryRowContext(ctx, `UPDATE carpool_rooms
		SET status = $2, passengers = $3, started_at = $4, completed_at = $5, updated_at = $6
		WHERE id = $1 RETURNING `+roomColumns,
		id, string(r.Status), seats, r.StartedAt, r.CompletedAt, time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("update room %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, id string, fn func(*Room) error) (*Room, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	r, err := lockRoom(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		if err := fn(r.Clone()); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM carpool_rooms WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete room %s: %w", id, err)
	}
	return r, tx.Commit()
}

func (p *Postgres) List(ctx context.Context, statuses ...Status) ([]*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM carpool_rooms`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(names))
	}
	rows, err := p.db.QueryContext(ctx, query+` ORDER BY departure_time, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()
	out := make([]*Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func lockRoom(ctx context.Context, tx *sql.Tx, id string) (*Room, error) {
	r, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM carpool_rooms WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock room %s: %w", id, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*Room, error) {
	var (
		r                  Room
		rideType, status   string
		seats              []byte
		started, completed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.DriverID, &r.Route, &r.Pickup, &r.Destination,
		&r.PickupCoords.Lat, &r.PickupCoords.Lng, &r.DestinationCoords.Lat, &r.DestinationCoords.Lng,
		&r.Price, &rideType, &r.MaxPassengers, &status, &seats, &r.DepartureTime, &r.DistanceKm, &r.DurationMinutes,
		&started, &completed, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Passengers = []Seat{}
	if len(seats) > 0 {
		if err := json.Unmarshal(seats, &r.Passengers); err != nil {
			return nil, fmt.Errorf("decode passengers: %w", err)
		}
	}
	r.RideType = models.RideType(rideType)
	r.Status = Status(status)
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}
