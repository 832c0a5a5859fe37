package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"m4cache/pkg/geo"
	"m4cache/pkg/model"
	"m4cache/pkg/store"
)

// WalkingSpeed is the assumed travel speed in meters per second (5 km/h).
const WalkingSpeed = 5000.0 / 3600.0

// Records is the part of the persistent cache the service needs.
type Records interface {
	GetStore(ctx context.Context, id string) (*model.Store, error)
	GetRoute(ctx context.Context, from, to string) (*model.Route, error)
	SaveRoute(ctx context.Context, r *model.Route) error
}

// Service computes straight-line routes and memoizes them in the cache.
type Service struct {
	records Records
}

// NewService creates a new routing service.
func NewService(r Records) *Service {
	return &Service{records: r}
}

// DistanceBetween returns the great-circle distance in meters.
func DistanceBetween(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.Distance(geo.Point{Lat: lat1, Lon: lon1}, geo.Point{Lat: lat2, Lon: lon2})
}

// PathBetween returns a GeoJSON line from the first point to the second.
// It is a direct line, not a road route.
func PathBetween(lat1, lon1, lat2, lon2 float64) (string, error) {
	data, err := geo.LinePath(geo.Point{Lat: lat1, Lon: lon1}, geo.Point{Lat: lat2, Lon: lon2})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EstimateDuration returns the walking time for distanceMeters in whole
// seconds, truncated.
func EstimateDuration(distanceMeters float64) int {
	return int(distanceMeters / WalkingSpeed)
}

// CalculateRoute computes the route between two points and saves it. It always
// recomputes. If the cache is unavailable the route is still returned.
func (s *Service) CalculateRoute(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (*model.Route, error) {
	distance := DistanceBetween(fromLat, fromLon, toLat, toLon)
	path, err := PathBetween(fromLat, fromLon, toLat, toLon)
	if err != nil {
		return nil, err
	}

	r := &model.Route{
		FromLocation:    geo.LocationKey(fromLat, fromLon),
		ToLocation:      geo.LocationKey(toLat, toLon),
		RouteData:       path,
		DistanceMeters:  distance,
		DurationSeconds: EstimateDuration(distance),
	}

	if err := s.records.SaveRoute(ctx, r); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("failed to save route: %w", err)
		}
		slog.Warn("Route not cached, cache unavailable", "from", r.FromLocation, "to", r.ToLocation)
	}

	slog.Debug("Route calculated", "from", r.FromLocation, "to", r.ToLocation,
		"distance_m", int(distance), "duration_s", r.DurationSeconds,
		"bearing", int(geo.Bearing(geo.Point{Lat: fromLat, Lon: fromLon}, geo.Point{Lat: toLat, Lon: toLon})))
	return r, nil
}

// CalculateRouteBetweenStores returns the route between two stores, from the
// cache when a route for their locations exists.
func (s *Service) CalculateRouteBetweenStores(ctx context.Context, fromStoreID, toStoreID string) (*model.Route, error) {
	from, err := s.resolveStore(ctx, fromStoreID)
	if err != nil {
		return nil, err
	}
	to, err := s.resolveStore(ctx, toStoreID)
	if err != nil {
		return nil, err
	}

	fromKey := geo.LocationKey(from.Lat, from.Lon)
	toKey := geo.LocationKey(to.Lat, to.Lon)

	cached, err := s.records.GetRoute(ctx, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up route: %w", err)
	}
	if cached != nil {
		slog.Debug("Route cache hit", "from", fromStoreID, "to", toStoreID)
		return cached, nil
	}

	return s.CalculateRoute(ctx, from.Lat, from.Lon, to.Lat, to.Lon)
}

func (s *Service) resolveStore(ctx context.Context, id string) (*model.Store, error) {
	st, err := s.records.GetStore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load store %q: %w", id, err)
	}
	if st == nil {
		return nil, &StoreNotFoundError{ID: id}
	}
	return st, nil
}
