package geo

import (
	"math"

	"github.com/example/safety-core/internal/models"
)

const (
	earthRadiusM    = 6371000.0
	metersPerDegree = earthRadiusM * math.Pi / 180.0
)

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// DistanceToSegment returns the minimum distance in meters from p to the
// segment a-b. It projects onto a local plane scaled by cos(latitude), which
// is adequate for city-scale routes but not geodesically exact over long
// segments.
func DistanceToSegment(p, a, b models.Coord) float64 {
	lonScale := math.Cos(a.Lat * math.Pi / 180)

	px := (p.Lon - a.Lon) * lonScale * metersPerDegree
	py := (p.Lat - a.Lat) * metersPerDegree
	bx := (b.Lon - a.Lon) * lonScale * metersPerDegree
	by := (b.Lat - a.Lat) * metersPerDegree

	segLenSq := bx*bx + by*by
	if segLenSq == 0 {
		return math.Hypot(px, py)
	}
	t := (px*bx + py*by) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-t*bx, py-t*by)
}

// PointInPolygon reports whether p lies inside the closed ring using the
// ray-casting odd-crossing rule. Rings with fewer than three vertices are
// degenerate and never contain anything. Boundary behavior is undefined.
func PointInPolygon(p models.Coord, ring []models.Coord) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			x := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
