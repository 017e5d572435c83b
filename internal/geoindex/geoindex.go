// Package geoindex answers "which known points are within radius R of this
// location" using Redis geo sets. The emergency-service directory itself is
// owned by an external collaborator; it publishes service positions here via
// RegisterService, and dispatch only ever reads them back by distance.
package geoindex

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

const (
	servicesKeyPrefix = "geo:services:"
	allServicesKey    = servicesKeyPrefix + "all"
	alertsKey         = "geo:alerts"
)

// Index is a Redis-backed geo index for emergency services and alert
// locations.
type Index struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Index{client: client}, nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client *redis.Client) *Index {
	return &Index{client: client}
}

// Close releases the underlying connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// Ping checks backend availability.
func (i *Index) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

// RegisterService publishes a service position under its type. Registered
// services are considered active; deregistration removes them from search.
func (i *Index) RegisterService(ctx context.Context, serviceID, serviceType string, location domain.Location) error {
	loc := &redis.GeoLocation{
		Name:      serviceID,
		Longitude: location.Longitude,
		Latitude:  location.Latitude,
	}

	if err := i.client.GeoAdd(ctx, allServicesKey, loc).Err(); err != nil {
		return fmt.Errorf("index service: %w", err)
	}
	if serviceType != "" {
		if err := i.client.GeoAdd(ctx, servicesKeyPrefix+serviceType, loc).Err(); err != nil {
			return fmt.Errorf("index service by type: %w", err)
		}
	}
	return nil
}

// DeregisterService removes a service from the geo sets.
func (i *Index) DeregisterService(ctx context.Context, serviceID, serviceType string) error {
	if err := i.client.ZRem(ctx, allServicesKey, serviceID).Err(); err != nil {
		return fmt.Errorf("remove service: %w", err)
	}
	if serviceType != "" {
		if err := i.client.ZRem(ctx, servicesKeyPrefix+serviceType, serviceID).Err(); err != nil {
			return fmt.Errorf("remove service by type: %w", err)
		}
	}
	return nil
}

// FindNearby returns services within radiusMeters of the location, ordered
// by ascending distance. typeFilter narrows the search to one service type;
// empty means all types.
func (i *Index) FindNearby(ctx context.Context, location domain.Location, radiusMeters int, typeFilter string) ([]domain.NearbyService, error) {
	key := allServicesKey
	if typeFilter != "" {
		key = servicesKeyPrefix + typeFilter
	}

	locations, err := i.client.GeoSearchLocation(ctx, key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  location.Longitude,
			Latitude:   location.Latitude,
			Radius:     float64(radiusMeters),
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	results := make([]domain.NearbyService, 0, len(locations))
	for _, loc := range locations {
		results = append(results, domain.NearbyService{
			ServiceID:      loc.Name,
			DistanceMeters: loc.Dist,
		})
	}
	return results, nil
}

// IndexAlertLocation records an alert's position so operators can query
// alerts near a point.
func (i *Index) IndexAlertLocation(ctx context.Context, alertID string, location domain.Location) error {
	err := i.client.GeoAdd(ctx, alertsKey, &redis.GeoLocation{
		Name:      alertID,
		Longitude: location.Longitude,
		Latitude:  location.Latitude,
	}).Err()
	if err != nil {
		return fmt.Errorf("index alert location: %w", err)
	}
	return nil
}

// NearbyAlertIDs returns ids of alerts within radiusMeters of the location,
// distance ascending.
func (i *Index) NearbyAlertIDs(ctx context.Context, location domain.Location, radiusMeters int) ([]string, error) {
	locations, err := i.client.GeoSearchLocation(ctx, alertsKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  location.Longitude,
			Latitude:   location.Latitude,
			Radius:     float64(radiusMeters),
			RadiusUnit: "m",
			Sort:       "ASC",
		},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search alerts: %w", err)
	}

	ids := make([]string, 0, len(locations))
	for _, loc := range locations {
		ids = append(ids, loc.Name)
	}
	return ids, nil
}
