package geofence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/safety-core/internal/models"
)

var square = []models.Coord{
	{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
}

var farSquare = []models.Coord{
	{Lat: 10, Lon: 10}, {Lat: 10, Lon: 11}, {Lat: 11, Lon: 11}, {Lat: 11, Lon: 10},
}

func TestResolveFirstActiveMatch(t *testing.T) {
	r1 := &models.Responder{ID: "r1", Phone: "+100"}
	r2 := &models.Responder{ID: "r2", Phone: "+200"}
	zones := []models.GeofenceZone{
		{ID: "inactive", Ring: square, Active: false, Responder: r1},
		{ID: "first", Ring: square, Active: true, Responder: r1},
		{ID: "second", Ring: square, Active: true, Responder: r2},
	}
	z, ok := Resolve(models.Coord{Lat: 0.5, Lon: 0.5}, zones)
	if !ok {
		t.Fatal("expected a match")
	}
	// order-dependent: the first active containing zone wins
	if z.ID != "first" {
		t.Fatalf("expected zone 'first', got %s", z.ID)
	}
}

func TestResolveNoMatch(t *testing.T) {
	zones := []models.GeofenceZone{{ID: "z", Ring: square, Active: true}}
	if _, ok := Resolve(models.Coord{Lat: 5, Lon: 5}, zones); ok {
		t.Fatal("expected no match outside the zone")
	}
}

type fakeSource struct {
	zones     []models.GeofenceZone
	zonesErr  error
	responder *models.Responder
	respErr   error
	fetches   int
}

func (f *fakeSource) Geofences(context.Context) ([]models.GeofenceZone, error) {
	f.fetches++
	return f.zones, f.zonesErr
}

func (f *fakeSource) AssignedResponder(context.Context, models.Coord) (*models.Responder, error) {
	return f.responder, f.respErr
}

func TestLocateUsesZoneResponder(t *testing.T) {
	r := &models.Responder{ID: "r1", Phone: "+100"}
	src := &fakeSource{zones: []models.GeofenceZone{{ID: "z", Ring: square, Active: true, Responder: r}}}
	s := &Service{Source: src}
	zone, resp, err := s.Locate(context.Background(), models.Coord{Lat: 0.5, Lon: 0.5})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if zone == nil || resp != r {
		t.Fatalf("expected zone responder, got zone=%v resp=%v", zone, resp)
	}
}

func TestLocateFallsBackToCoverageLookup(t *testing.T) {
	r := &models.Responder{ID: "r2", Phone: "+200"}
	src := &fakeSource{
		zones:     []models.GeofenceZone{{ID: "z", Ring: square, Active: true}},
		responder: r,
	}
	s := &Service{Source: src}
	zone, resp, err := s.Locate(context.Background(), models.Coord{Lat: 0.5, Lon: 0.5})
	if err != nil || zone == nil {
		t.Fatalf("unexpected result: zone=%v err=%v", zone, err)
	}
	if resp != r {
		t.Fatalf("expected coverage responder, got %v", resp)
	}
}

func TestLocateResponderLookupFailureKeepsZone(t *testing.T) {
	src := &fakeSource{
		zones:   []models.GeofenceZone{{ID: "z", Ring: square, Active: true}},
		respErr: errors.New("boom"),
	}
	s := &Service{Source: src}
	zone, resp, err := s.Locate(context.Background(), models.Coord{Lat: 0.5, Lon: 0.5})
	if err != nil {
		t.Fatalf("lookup failure must not surface: %v", err)
	}
	if zone == nil || resp != nil {
		t.Fatalf("expected zone without responder, got zone=%v resp=%v", zone, resp)
	}
}

func TestLocateBackendFailureSurfaces(t *testing.T) {
	src := &fakeSource{zonesErr: errors.New("offline")}
	s := &Service{Source: src}
	if _, _, err := s.Locate(context.Background(), models.Coord{}); err == nil {
		t.Fatal("expected error when zone fetch fails")
	}
}

func TestLocateCachesSnapshot(t *testing.T) {
	src := &fakeSource{zones: []models.GeofenceZone{{ID: "z", Ring: farSquare, Active: true}}}
	s := &Service{Source: src, Cache: NewSnapshotCache(time.Minute)}
	for i := 0; i < 3; i++ {
		if _, _, err := s.Locate(context.Background(), models.Coord{Lat: 0.5, Lon: 0.5}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if src.fetches != 1 {
		t.Fatalf("expected 1 fetch with warm cache, got %d", src.fetches)
	}
}
