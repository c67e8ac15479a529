package geo

import (
	"math"
	"testing"

	"github.com/example/safety-core/internal/models"
)

func TestHaversineZero(t *testing.T) {
	pts := []models.Coord{{}, {Lat: 45, Lon: 90}, {Lat: -33.9, Lon: 151.2}}
	for _, p := range pts {
		if d := Haversine(p, p); d != 0 {
			t.Fatalf("expected 0 for %v, got %f", p, d)
		}
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := models.Coord{Lat: -1.2921, Lon: 36.8219}
	b := models.Coord{Lat: -1.3032, Lon: 36.7073}
	if d1, d2 := Haversine(a, b), Haversine(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("not symmetric: %f vs %f", d1, d2)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.2 km
	a := models.Coord{Lat: 0, Lon: 0}
	b := models.Coord{Lat: 1, Lon: 0}
	d := Haversine(a, b)
	if d < 110000 || d > 112500 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestDistanceToSegmentOffRoute(t *testing.T) {
	// ~1.1 km east of a route running up the meridian; well past a 200 m threshold
	start := models.Coord{Lat: 0, Lon: 0}
	dest := models.Coord{Lat: 1, Lon: 0}
	cur := models.Coord{Lat: 0.5, Lon: 0.01}
	d := DistanceToSegment(cur, start, dest)
	if d <= 200 {
		t.Fatalf("expected > 200m, got %f", d)
	}
	if d < 1000 || d > 1300 {
		t.Fatalf("expected roughly 1.1km, got %f", d)
	}
}

func TestDistanceToSegmentOnRoute(t *testing.T) {
	start := models.Coord{Lat: 0, Lon: 0}
	dest := models.Coord{Lat: 1, Lon: 0}
	if d := DistanceToSegment(models.Coord{Lat: 0.5, Lon: 0}, start, dest); d > 1 {
		t.Fatalf("point on segment should be ~0, got %f", d)
	}
}

func TestDistanceToSegmentClampsToEndpoints(t *testing.T) {
	start := models.Coord{Lat: 0, Lon: 0}
	dest := models.Coord{Lat: 0, Lon: 1}
	// beyond the destination endpoint; nearest point is the endpoint itself
	p := models.Coord{Lat: 0, Lon: 2}
	d := DistanceToSegment(p, start, dest)
	if math.Abs(d-metersPerDegree) > 1000 {
		t.Fatalf("expected ~1 degree of longitude, got %f", d)
	}
}

func TestDistanceToSegmentDegenerate(t *testing.T) {
	a := models.Coord{Lat: 1, Lon: 1}
	d := DistanceToSegment(models.Coord{Lat: 1, Lon: 1.01}, a, a)
	if d <= 0 {
		t.Fatalf("expected positive distance to a point segment, got %f", d)
	}
}

func TestPointInPolygonSquare(t *testing.T) {
	ring := []models.Coord{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
	}
	if !PointInPolygon(models.Coord{Lat: 0.5, Lon: 0.5}, ring) {
		t.Fatal("center should be inside")
	}
	if PointInPolygon(models.Coord{Lat: 2, Lon: 2}, ring) {
		t.Fatal("(2,2) should be outside")
	}
}

func TestPointInPolygonNonConvex(t *testing.T) {
	// L-shape: the notch at the upper-right is outside
	ring := []models.Coord{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 1, Lon: 2},
		{Lat: 1, Lon: 1}, {Lat: 2, Lon: 1}, {Lat: 2, Lon: 0},
	}
	if !PointInPolygon(models.Coord{Lat: 0.5, Lon: 0.5}, ring) {
		t.Fatal("lower arm should be inside")
	}
	if !PointInPolygon(models.Coord{Lat: 1.5, Lon: 0.5}, ring) {
		t.Fatal("upper arm should be inside")
	}
	if PointInPolygon(models.Coord{Lat: 1.5, Lon: 1.5}, ring) {
		t.Fatal("notch should be outside")
	}
}

func TestPointInPolygonDegenerate(t *testing.T) {
	if PointInPolygon(models.Coord{}, nil) {
		t.Fatal("nil ring contains nothing")
	}
	if PointInPolygon(models.Coord{}, []models.Coord{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}) {
		t.Fatal("two-vertex ring contains nothing")
	}
}
