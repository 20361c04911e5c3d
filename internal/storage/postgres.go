package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const rideColumns = `id, driver_id, rider_id, passengers, pickup, destination,
	pickup_lat, pickup_lng, dest_lat, dest_lng, distance_km, duration_minutes,
	ride_type, base_price, status, rejected_by, cancelled_by, cancel_reason,
	requested_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
	rating, review, created_at, updated_at`

// PostgresStore is the durable RideStore. Conditional transitions are single
// UPDATE ... WHERE ... RETURNING statements, so Postgres row locking is the
// arbiter between concurrent callers and between process instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// DB exposes the pool so other stores can share the ride database.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order. They are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, draft *models.Ride, initial models.RideStatus) (*models.Ride, error) {
	r := draft.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	passengers, err := json.Marshal(nonNilPassengers(r.Passengers))
	if err != nil {
		return nil, fmt.Errorf("encode passengers: %w", err)
	}
	now := time.Now().UTC()
	row := p.db.QueryRowContext(ctx, `INSERT INTO rides(id, driver_id, rider_id, passengers, pickup, destination,
		pickup_lat, pickup_lng, dest_lat, dest_lng, distance_km, duration_minutes, ride_type, base_price,
		status, rejected_by, requested_at, created_at, updated_at)
		VALUES($1,NULLIF($2,''),NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,'{}',$16,$16,$16)
		RETURNING `+rideColumns,
		r.ID, r.DriverID, r.RiderID, passengers, r.Pickup, r.Destination,
		r.PickupCoords.Lat, r.PickupCoords.Lng, r.DestinationCoords.Lat, r.DestinationCoords.Lng,
		r.DistanceKm, r.DurationMinutes, string(r.RideType), r.BasePrice, string(initial), now)
	out, err := scanRide(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("insert ride: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ride %s: %w", id, err)
	}
	return r, nil
}

func (p *PostgresStore) ConditionalTransition(ctx context.Context, id string, g Guard, c Change) (*models.Ride, error) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	query, args := buildTransition(id, g, c)
	r, err := scanRide(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transition ride %s: %w", id, err)
	}
	return r, nil
}

func (p *PostgresStore) FindByParticipant(ctx context.Context, who Participant, statuses ...models.RideStatus) ([]*models.Ride, error) {
	q := &sqlBuilder{}
	id := q.arg(who.ID)
	var where string
	if who.Role == RoleDriver {
		where = "driver_id = " + id
	} else {
		where = passengerClause(id)
	}
	if len(statuses) > 0 {
		where += " AND status = ANY(" + q.arg(statusArray(statuses)) + ")"
	}
	return p.query(ctx, `SELECT `+rideColumns+` FROM rides WHERE `+where+` ORDER BY created_at, id`, q.args)
}

func (p *PostgresStore) FindByStatus(ctx context.Context, statuses ...models.RideStatus) ([]*models.Ride, error) {
	if len(statuses) == 0 {
		return p.query(ctx, `SELECT `+rideColumns+` FROM rides ORDER BY created_at, id`, nil)
	}
	return p.query(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = ANY($1) ORDER BY created_at, id`, []any{statusArray(statuses)})
}

func (p *PostgresStore) query(ctx context.Context, query string, args []any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// buildTransition renders the compare-and-swap UPDATE for a guard and change.
func buildTransition(id string, g Guard, c Change) (string, []any) {
	q := &sqlBuilder{}
	idArg := q.arg(id)
	at := q.arg(c.At)

	sets := []string{"updated_at = " + at}
	if c.To != "" {
		sets = append(sets, "status = "+q.arg(string(c.To)))
		if col := stampColumn(c.To); col != "" {
			sets = append(sets, col+" = "+at)
		}
	}
	if c.SetDriver {
		sets = append(sets, "driver_id = NULLIF("+q.arg(c.DriverID)+", '')")
	}
	if c.Reject != "" {
		rej := q.arg(c.Reject)
		sets = append(sets, fmt.Sprintf("rejected_by = CASE WHEN %[1]s::text = ANY(rejected_by) THEN rejected_by ELSE array_append(rejected_by, %[1]s::text) END", rej))
	}
	if c.CancelledBy != "" {
		sets = append(sets, "cancelled_by = "+q.arg(c.CancelledBy), "cancel_reason = "+q.arg(c.CancelReason))
	}
	if c.Rating != nil {
		sets = append(sets, "rating = "+q.arg(*c.Rating), "review = "+q.arg(c.Review))
	}

	where := []string{"id = " + idArg}
	if len(g.From) > 0 {
		where = append(where, "status = ANY("+q.arg(statusArray(g.From))+")")
	}
	switch g.Driver {
	case Unassigned:
		where = append(where, "driver_id IS NULL")
	case AssignedTo:
		where = append(where, "driver_id = "+q.arg(g.DriverID))
	case AssignedToOrUnassigned:
		where = append(where, "(driver_id IS NULL OR driver_id = "+q.arg(g.DriverID)+")")
	}
	if g.Passenger != "" {
		where = append(where, passengerClause(q.arg(g.Passenger)))
	}
	if g.Unrated {
		where = append(where, "rating IS NULL")
	}
	if g.NotRejectedBy != "" {
		where = append(where, "NOT ("+q.arg(g.NotRejectedBy)+"::text = ANY(rejected_by))")
	}

	query := "UPDATE rides SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + rideColumns
	return query, q.args
}

func passengerClause(arg string) string {
	return "(rider_id = " + arg + " OR passengers @> jsonb_build_array(jsonb_build_object('user_id', " + arg + "::text)))"
}

type sqlBuilder struct{ args []any }

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func statusArray(statuses []models.RideStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func nonNilPassengers(p []models.Passenger) []models.Passenger {
	if p == nil {
		return []models.Passenger{}
	}
	return p
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(row scanner) (*models.Ride, error) {
	var (
		r                     models.Ride
		driverID, riderID     sql.NullString
		cancelledBy, reason   sql.NullString
		review                sql.NullString
		rating                sql.NullInt64
		passengers            []byte
		rideType, status      string
		rejected              pq.StringArray
		requested, accepted   sql.NullTime
		arrived, started      sql.NullTime
		completed, cancelledA sql.NullTime
	)
	err := row.Scan(&r.ID, &driverID, &riderID, &passengers, &r.Pickup, &r.Destination,
		&r.PickupCoords.Lat, &r.PickupCoords.Lng, &r.DestinationCoords.Lat, &r.DestinationCoords.Lng,
		&r.DistanceKm, &r.DurationMinutes, &rideType, &r.BasePrice, &status, &rejected,
		&cancelledBy, &reason, &requested, &accepted, &arrived, &started, &completed, &cancelledA,
		&rating, &review, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(passengers) > 0 {
		if err := json.Unmarshal(passengers, &r.Passengers); err != nil {
			return nil, fmt.Errorf("decode passengers: %w", err)
		}
	}
	r.DriverID = driverID.String
	r.RiderID = riderID.String
	r.RideType = models.RideType(rideType)
	r.Status = models.RideStatus(status)
	r.RejectedBy = []string(rejected)
	if r.RejectedBy == nil {
		r.RejectedBy = []string{}
	}
	r.CancelledBy = cancelledBy.String
	r.CancelReason = reason.String
	r.Review = review.String
	if rating.Valid {
		v := int(rating.Int64)
		r.Rating = &v
	}
	r.RequestedAt = nullTime(requested)
	r.AcceptedAt = nullTime(accepted)
	r.ArrivedAt = nullTime(arrived)
	r.StartedAt = nullTime(started)
	r.CompletedAt = nullTime(completed)
	r.CancelledAt = nullTime(cancelledA)
	return &r, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
