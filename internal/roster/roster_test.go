package roster

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryListsOnlyActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, models.Driver{ID: "b", Loc: models.Coord{Lat: 6.5, Lng: 3.3}, Active: true})
	m.Upsert(ctx, models.Driver{ID: "a", Loc: models.Coord{Lat: 6.6, Lng: 3.3}, Active: true})
	m.Upsert(ctx, models.Driver{ID: "c", Loc: models.Coord{Lat: 6.7, Lng: 3.3}})

	got, err := m.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected roster %+v", got)
	}
	if err := m.SetActive(ctx, "a", false); err != nil {
		t.Fatal(err)
	}
	got, _ = m.ListActive(ctx)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only b after deactivation, got %+v", got)
	}
	if err := m.SetActive(ctx, "zzz", true); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

type fakeRedis struct {
	geo  map[string]redis.GeoPos
	meta map[string]map[string]string
	near []redis.GeoLocation
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{geo: map[string]redis.GeoPos{}, meta: map[string]map[string]string{}}
}

func (f *fakeRedis) GeoAdd(ctx context.Context, key string, locs ...*redis.GeoLocation) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, l := range locs {
		f.geo[l.Name] = redis.GeoPos{Longitude: l.Longitude, Latitude: l.Latitude}
	}
	return redis.NewIntResult(int64(len(locs)), nil)
}

func (f *fakeRedis) GeoPos(ctx context.Context, key string, members ...string) *redis.GeoPosCmd {
	out := make([]*redis.GeoPos, len(members))
	for i, m := range members {
		if p, ok := f.geo[m]; ok {
			p := p
			out[i] = &p
		}
	}
	return redis.NewGeoPosCmdResult(out, nil)
}

func (f *fakeRedis) GeoRadius(ctx context.Context, key string, lng, lat float64, q *redis.GeoRadiusQuery) *redis.GeoLocationCmd {
	return redis.NewGeoLocationCmdResult(f.near, nil)
}

func (f *fakeRedis) ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	ids := make([]string, 0, len(f.geo))
	for id := range f.geo {
		ids = append(ids, id)
	}
	return redis.NewStringSliceResult(ids, nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := f.meta[key]
	if h == nil {
		h = map[string]string{}
		f.meta[key] = h
	}
	if len(values) == 1 {
		for k, v := range values[0].(map[string]interface{}) {
			h[k] = v.(string)
		}
		return redis.NewIntResult(1, nil)
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(f.meta[key], nil)
}

func TestRedisUpsertAndList(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	r := NewRedis(fr, "")
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := r.Upsert(ctx, models.Driver{ID: "d1", Loc: models.Coord{Lat: 6.5, Lng: 3.4}, Rating: 4.8, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(ctx, models.Driver{ID: "d2", Loc: models.Coord{Lat: 6.6, Lng: 3.4}}); err != nil {
		t.Fatal(err)
	}
	if fr.meta["driver:meta:d1"]["rating"] != "4.8" {
		t.Fatalf("unexpected meta %+v", fr.meta)
	}

	got, err := r.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "d1" || got[0].Loc.Lat != 6.5 || got[0].Rating != 4.8 {
		t.Fatalf("unexpected roster %+v", got)
	}
	if !got[0].Updated.Equal(r.now()) {
		t.Fatalf("updated not parsed: %v", got[0].Updated)
	}

	if err := r.SetActive(ctx, "d2", true); err != nil {
		t.Fatal(err)
	}
	got, _ = r.ListActive(ctx)
	if len(got) != 2 {
		t.Fatalf("expected both drivers active, got %+v", got)
	}
	if err := r.SetActive(ctx, "ghost", true); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestRedisNearSkipsInactive(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	r := NewRedis(fr, "drivers_geo")
	r.Upsert(ctx, models.Driver{ID: "on", Loc: models.Coord{Lat: 6.5, Lng: 3.4}, Active: true})
	r.Upsert(ctx, models.Driver{ID: "off", Loc: models.Coord{Lat: 6.5, Lng: 3.4}})
	fr.near = []redis.GeoLocation{{Name: "on", Latitude: 6.5, Longitude: 3.4}, {Name: "off", Latitude: 6.5, Longitude: 3.4}}

	var rr Roster = r
	got, err := Candidates(ctx, rr, models.Coord{Lat: 6.5, Lng: 3.4}, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "on" {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestRedisUpsertError(t *testing.T) {
	fr := newFakeRedis()
	fr.err = errors.New("connection refused")
	if err := NewRedis(fr, "").Upsert(context.Background(), models.Driver{ID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPostgresRoster(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	id := "roster-test-" + time.Now().Format("150405.000000")
	if err := p.Upsert(ctx, models.Driver{ID: id, Loc: models.Coord{Lat: 6.5, Lng: 3.4}, Rating: 4.5, Active: true}); err != nil {
		t.Fatal(err)
	}
	defer p.SetActive(ctx, id, false)
	got, err := p.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range got {
		if d.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("driver %s not listed", id)
	}

	if err := p.Move(ctx, id, models.Coord{Lat: 6.6, Lng: 3.5}, true); err != nil {
		t.Fatal(err)
	}
	got, _ = p.ListActive(ctx)
	for _, d := range got {
		if d.ID == id && (d.Rating != 4.5 || d.Loc.Lat != 6.6) {
			t.Fatalf("ping should move the driver and keep the rating, got %+v", d)
		}
	}
}

func TestMemoryMoveKeepsRating(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Upsert(ctx, models.Driver{ID: "d1", Loc: models.Coord{Lat: 6.5, Lng: 3.3}, Rating: 4.9, Active: true})
	if err := m.Move(ctx, "d1", models.Coord{Lat: 6.6, Lng: 3.4}, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Move(ctx, "new", models.Coord{Lat: 6.7, Lng: 3.4}, true); err != nil {
		t.Fatal(err)
	}
	got, _ := m.ListActive(ctx)
	if len(got) != 2 || got[0].ID != "d1" || got[0].Rating != 4.9 || got[0].Loc.Lat != 6.6 {
		t.Fatalf("ping lost the rating or the position: %+v", got)
	}
	if got[1].ID != "new" || got[1].Rating != 0 {
		t.Fatalf("new driver should start unrated: %+v", got[1])
	}
}

func TestRedisMoveKeepsRating(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	r := NewRedis(fr, "")
	r.Upsert(ctx, models.Driver{ID: "d1", Loc: models.Coord{Lat: 6.5, Lng: 3.4}, Rating: 4.8, Active: true})
	if err := r.Move(ctx, "d1", models.Coord{Lat: 6.55, Lng: 3.45}, false); err != nil {
		t.Fatal(err)
	}
	meta := fr.meta[MetaKey("d1")]
	if meta["rating"] != "4.8" || meta["active"] != "false" {
		t.Fatalf("ping should only touch availability, got %+v", meta)
	}
	if pos := fr.geo["d1"]; pos.Latitude != 6.55 {
		t.Fatalf("position not moved: %+v", pos)
	}
}

type execRecorder struct {
	sql  string
	args []any
}

func (e *execRecorder) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (e *execRecorder) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresMoveLeavesRatingColumn(t *testing.T) {
	rec := &execRecorder{}
	p := &Postgres{db: rec}
	if err := p.Move(context.Background(), "d1", models.Coord{Lat: 6.5, Lng: 3.4}, true); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rec.sql, "rating") {
		t.Fatalf("ping must not write the rating:\n%s", rec.sql)
	}
	if len(rec.args) != 4 || rec.args[0] != "d1" || rec.args[3] != true {
		t.Fatalf("unexpected args %#v", rec.args)
	}
}
