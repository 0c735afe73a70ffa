package spatial

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/geodesic"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
)

// DefaultMaxAreaHa is the parcel area ceiling used when none is configured.
const DefaultMaxAreaHa = 10000.0

func geometryError(format string, args ...interface{}) error {
	return apperr.Newf(apperr.CodeInvalidGeometry, format, args...)
}

// Normalize parses a GeoJSON geometry, Feature or FeatureCollection and returns a valid
// multipolygon. Polygon members of collections are unioned and self-intersecting
// rings are rebuilt with even-odd fill.
func Normalize(raw []byte) (orb.MultiPolygon, error) {
	geom, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	var polys []orb.Polygon
	switch g := geom.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = []orb.Polygon(g)
	case orb.Collection:
		polys = collectPolygons(g)
		if len(polys) == 0 {
			return nil, geometryError("Geometry must include at least one polygon")
		}
	default:
		return nil, geometryError("Only Polygon/MultiPolygon geometries are supported")
	}

	mp := closeRings(orb.MultiPolygon(polys))
	if needsRepair(mp) {
		mp = Repair(mp)
	}
	mp = dropDegenerate(mp)
	if len(mp) == 0 {
		return nil, geometryError("Geometry is empty after validation")
	}
	return mp, nil
}

func decodeDocument(raw []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, geometryError("Invalid GeoJSON geometry")
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil || f.Geometry == nil {
			return nil, geometryError("Invalid GeoJSON feature")
		}
		return f.Geometry, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, geometryError("Invalid GeoJSON feature collection")
		}
		if len(fc.Features) == 0 {
			return nil, geometryError("FeatureCollection is empty")
		}
		var members orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				members = append(members, f.Geometry)
			}
		}
		return members, nil
	}

	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil || g.Geometry() == nil {
		return nil, geometryError("Invalid GeoJSON geometry")
	}
	return g.Geometry(), nil
}

func collectPolygons(c orb.Collection) []orb.Polygon {
	var out []orb.Polygon
	for _, member := range c {
		switch g := member.(type) {
		case orb.Polygon:
			out = append(out, g)
		case orb.MultiPolygon:
			out = append(out, g...)
		case orb.Collection:
			out = append(out, collectPolygons(g)...)
		}
	}
	return out
}

// AreaHectares returns the geodesic area on the WGS84 ellipsoid, in hectares.
func AreaHectares(mp orb.MultiPolygon) float64 {
	total := 0.0
	for _, poly := range mp {
		for i, ring := range poly {
			a := ringGeodesicArea(ring)
			if i == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	if total < 0 {
		total = -total
	}
	return total / 10000.0
}

func ringGeodesicArea(ring orb.Ring) float64 {
	poly := geodesic.WGS84.PolygonInit(false)
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return 0
	}
	for _, p := range ring[:n] {
		poly.AddPoint(p[1], p[0])
	}
	var area, perimeter float64
	poly.Compute(false, true, &area, &perimeter)
	if area < 0 {
		area = -area
	}
	return area
}

// EnforceLimit fails when the area exceeds limitHa.
func EnforceLimit(areaHa, limitHa float64) error {
	if areaHa > limitHa {
		return geometryError("Parcel area %.2f ha exceeds %.0f ha limit", areaHa, limitHa)
	}
	return nil
}

// PlanarArea is the area in squared coordinate units.
func PlanarArea(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return planar.Area(g)
}

// MarshalGeoJSON encodes the multipolygon as a GeoJSON geometry object.
func MarshalGeoJSON(mp orb.MultiPolygon) ([]byte, error) {
	data, err := geojson.NewGeometry(mp).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return data, nil
}

// FeatureJSON wraps the multipolygon in a GeoJSON Feature with empty properties.
func FeatureJSON(mp orb.MultiPolygon) ([]byte, error) {
	f := geojson.NewFeature(mp)
	data, err := f.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature: %w", err)
	}
	return data, nil
}

// UnmarshalMultiPolygon decodes a stored geometry and promotes polygons.
func UnmarshalMultiPolygon(data []byte) (orb.MultiPolygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	switch v := g.Geometry().(type) {
	case orb.MultiPolygon:
		return v, nil
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	}
	return nil, fmt.Errorf("stored geometry is %s, not a polygon", g.Type)
}
