package roster

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// Key layout shared with cmd/consumer.
const (
	DefaultGeoKey = "drivers_geo"
	metaPrefix    = "driver:meta:"
)

func MetaKey(id string) string { return metaPrefix + id }

// RedisClient is the subset of go-redis the roster needs. *redis.Client
// satisfies it.
type RedisClient interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoPos(ctx context.Context, key string, members ...string) *redis.GeoPosCmd
	GeoRadius(ctx context.Context, key string, longitude, latitude float64, query *redis.GeoRadiusQuery) *redis.GeoLocationCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Redis stores positions in a GEO set and metadata in one hash per driver,
// so several API instances and the location consumer share one roster.
type Redis struct {
	client RedisClient
	key    string
	now    func() time.Time
}

func NewRedis(client RedisClient, key string) *Redis {
	if key == "" {
		key = DefaultGeoKey
	}
	return &Redis{client: client, key: key, now: time.Now}
}

func (r *Redis) Upsert(ctx context.Context, d models.Driver) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.ID, err)
	}
	if err := r.client.HSet(ctx, MetaKey(d.ID), MetaFields(d, r.now())).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", d.ID, err)
	}
	return nil
}

func (r *Redis) Move(ctx context.Context, id string, loc models.Coord, active bool) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: id}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", id, err)
	}
	if err := r.client.HSet(ctx, MetaKey(id), "active", strconv.FormatBool(active), "updated", r.now().UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", id, err)
	}
	return nil
}

// MetaFields is the hash written next to each GEO member.
func MetaFields(d models.Driver, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"rating":  strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"active":  strconv.FormatBool(d.Active),
		"updated": at.UTC().Format(time.RFC3339),
	}
}

func (r *Redis) SetActive(ctx context.Context, id string, active bool) error {
	m, err := r.client.HGetAll(ctx, MetaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("hgetall %s: %w", id, err)
	}
	if len(m) == 0 {
		return ErrUnknownDriver
	}
	return r.client.HSet(ctx, MetaKey(id), "active", strconv.FormatBool(active), "updated", r.now().UTC().Format(time.RFC3339)).Err()
}

func (r *Redis) ListActive(ctx context.Context) ([]models.Driver, error) {
	ids, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", r.key, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pos, err := r.client.GeoPos(ctx, r.key, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("geopos: %w", err)
	}
	out := make([]models.Driver, 0, len(ids))
	for i, id := range ids {
		if i >= len(pos) || pos[i] == nil {
			continue
		}
		d := models.Driver{ID: id, Loc: models.Coord{Lat: pos[i].Latitude, Lng: pos[i].Longitude}}
		if ok, err := r.fillMeta(ctx, &d); err != nil {
			return nil, err
		} else if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListActiveNear lets Redis do the radius cut, nearest first.
func (r *Redis) ListActiveNear(ctx context.Context, origin models.Coord, radiusKm float64) ([]models.Driver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if ok, err := r.fillMeta(ctx, &d); err != nil {
			return nil, err
		} else if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// fillMeta reports whether the driver is active. Members without metadata
// are treated as offline.
func (r *Redis) fillMeta(ctx context.Context, d *models.Driver) (bool, error) {
	m, err := r.client.HGetAll(ctx, MetaKey(d.ID)).Result()
	if err != nil {
		return false, fmt.Errorf("hgetall %s: %w", d.ID, err)
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Rating = f
		}
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.Updated = t
		}
	}
	d.Active = m["active"] == "true"
	return d.Active, nil
}
