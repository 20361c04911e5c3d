package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ride-dispatch/internal/models"
)

const driversSchema = `
CREATE TABLE IF NOT EXISTS drivers (
    id          TEXT PRIMARY KEY,
    lat         DOUBLE PRECISION NOT NULL DEFAULT 0,
    lng         DOUBLE PRECISION NOT NULL DEFAULT 0,
    rating      DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_active   BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS drivers_active_idx ON drivers (is_active);
`

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres reads the roster from a drivers table owned by the driver
// service. The write methods exist for local setups and tests.
type Postgres struct {
	db   pgxQuerier
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("roster pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("roster ping: %w", err)
	}
	return &Postgres{db: pool, pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, driversSchema)
	return err
}

func (p *Postgres) Upsert(ctx context.Context, d models.Driver) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO drivers (id, lat, lng, rating, is_active, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE SET lat = EXCLUDED.lat, lng = EXCLUDED.lng,
    rating = EXCLUDED.rating, is_active = EXCLUDED.is_active, updated_at = now()`,
		d.ID, d.Loc.Lat, d.Loc.Lng, d.Rating, d.Active)
	if err != nil {
		return fmt.Errorf("upsert driver %s: %w", d.ID, err)
	}
	return nil
}

const moveDriver = `
INSERT INTO drivers (id, lat, lng, is_active, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET lat = EXCLUDED.lat, lng = EXCLUDED.lng,
    is_active = EXCLUDED.is_active, updated_at = now()`

func (p *Postgres) Move(ctx context.Context, id string, loc models.Coord, active bool) error {
	if _, err := p.db.Exec(ctx, moveDriver, id, loc.Lat, loc.Lng, active); err != nil {
		return fmt.Errorf("move driver %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := p.db.Exec(ctx, `UPDATE drivers SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownDriver
	}
	return nil
}

func (p *Postgres) ListActive(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.Query(ctx, `SELECT id, lat, lng, rating, is_active, updated_at FROM drivers WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Driver, error) {
		var d models.Driver
		err := row.Scan(&d.ID, &d.Loc.Lat, &d.Loc.Lng, &d.Rating, &d.Active, &d.Updated)
		return d, err
	})
}
