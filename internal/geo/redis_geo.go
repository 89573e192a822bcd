package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex implements Index on Redis GEO commands; ride metadata rides
// along in a hash per ride.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(p RidePosition) {
	ctx := context.Background()
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Coord.Lon,
		Latitude:  p.Coord.Lat,
		Name:      p.RideID,
	}).Result()
	_ = r.client.HSet(ctx, metaKey(p.RideID), map[string]interface{}{
		"driver_id": p.DriverID,
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Nearby(lat, lon, radiusMeters float64, limit int) []RidePosition {
	ctx := context.Background()
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]RidePosition, 0, len(res))
	for _, g := range res {
		p := RidePosition{RideID: g.Name}
		p.Coord.Lat = g.Latitude
		p.Coord.Lon = g.Longitude
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			p.DriverID = m["driver_id"]
			if v, ok := m["updated"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					p.Updated = ts
				}
			}
		}
		out = append(out, p)
	}
	return out
}

func (r *RedisIndex) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "ride:meta:" + id }
