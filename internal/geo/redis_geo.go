package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/superapp-dispatch/internal/models"
)

const DefaultGeoKey = "drivers_geo"

// RedisGeo mirrors the driver pool into Redis: positions under a GEO key and
// metadata in a hash per driver. The in-memory store stays authoritative.
type RedisGeo struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	if key == "" {
		key = DefaultGeoKey
	}
	return &RedisGeo{client: client, key: key, now: time.Now}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	// store as GEOADD and HSET for metadata
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Location.Lon, Latitude: d.Location.Lat, Name: d.ID})
		p.HSet(ctx, MetaKey(d.ID), map[string]interface{}{
			"name":         d.Name,
			"vehicleType":  d.VehicleType,
			"licensePlate": d.LicensePlate,
			"status":       string(d.Status),
			"updated":      r.now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror driver %s: %w", d.ID, err)
	}
	return nil
}

// Seed mirrors every driver, stopping at the first failure.
func (r *RedisGeo) Seed(ctx context.Context, drivers []models.Driver) error {
	for _, d := range drivers {
		if err := r.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func MetaKey(id string) string { return "driver:meta:" + id }
