package spatial

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// GroundPixelSize estimates the ground size in meters of a pixel of
// (dx, dy) degrees centered at c.
func GroundPixelSize(c orb.Point, dx, dy float64) (width, height float64) {
	lon, lat := c[0], c[1]
	width = HaversineDistance(lat, lon-dx/2, lat, lon+dx/2)
	height = HaversineDistance(lat-dy/2, lon, lat+dy/2, lon)
	return width, height
}

// Centroid returns the centroid of the multipolygon's bounding box.
func Centroid(mp orb.MultiPolygon) orb.Point {
	return mp.Bound().Center()
}
