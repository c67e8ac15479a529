package geofence

import (
	"context"
	"log/slog"

	"github.com/example/safety-core/internal/geo"
	"github.com/example/safety-core/internal/models"
)

// ZoneSource is the subset of the backend client the resolver needs.
type ZoneSource interface {
	Geofences(ctx context.Context) ([]models.GeofenceZone, error)
	AssignedResponder(ctx context.Context, loc models.Coord) (*models.Responder, error)
}

// Resolve returns the first active zone containing the point. With
// overlapping zones the result is order-dependent on the input list; there
// is no most-specific-zone tie-break.
func Resolve(p models.Coord, zones []models.GeofenceZone) (*models.GeofenceZone, bool) {
	for i := range zones {
		z := &zones[i]
		if !z.Active {
			continue
		}
		if geo.PointInPolygon(p, z.Ring) {
			return z, true
		}
	}
	return nil, false
}

// Service fetches zone snapshots (through a short-lived cache) and resolves
// the zone plus responder for a coordinate.
type Service struct {
	Source ZoneSource
	Cache  *SnapshotCache
	Logger *slog.Logger
}

// Locate resolves the containing zone and its responder. A zone without an
// attached responder falls through to the backend coverage lookup. Backend
// failures surface as an error so the caller can degrade to
// trusted-circle-only routing.
func (s *Service) Locate(ctx context.Context, p models.Coord) (*models.GeofenceZone, *models.Responder, error) {
	var zones []models.GeofenceZone
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(); ok {
			zones = cached
		}
	}
	if zones == nil {
		fetched, err := s.Source.Geofences(ctx)
		if err != nil {
			return nil, nil, err
		}
		zones = fetched
		if s.Cache != nil {
			s.Cache.Set(fetched)
		}
	}

	zone, ok := Resolve(p, zones)
	if !ok {
		return nil, nil, nil
	}
	if zone.Responder != nil {
		return zone, zone.Responder, nil
	}
	resp, err := s.Source.AssignedResponder(ctx, p)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("responder lookup failed", "zone", zone.ID, "error", err)
		}
		return zone, nil, nil
	}
	return zone, resp, nil
}
