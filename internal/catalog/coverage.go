package catalog

import (
	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
)

// SceneGeometry returns the scene footprint, or its bounding box when the
// footprint is missing or has no area. It returns nil when neither is usable.
func SceneGeometry(scene models.Scene) orb.MultiPolygon {
	if mp := polygonal(scene.Footprint); len(mp) > 0 && spatial.PlanarArea(mp) > 0 {
		return mp
	}
	return bboxPolygon(scene.BBox)
}

func polygonal(g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.MultiPolygon:
		return v
	}
	return nil
}

func bboxPolygon(bbox []float64) orb.MultiPolygon {
	if len(bbox) != 4 {
		return nil
	}
	minx, miny, maxx, maxy := bbox[0], bbox[1], bbox[2], bbox[3]
	if minx >= maxx || miny >= maxy {
		return nil
	}
	return orb.MultiPolygon{{{
		{minx, miny}, {maxx, miny}, {maxx, maxy}, {minx, maxy}, {minx, miny},
	}}}
}

// overlapsParcel reports whether the scene geometry shares area with the
// parcel. Scenes without any usable geometry are kept.
func overlapsParcel(scene models.Scene, parcel orb.MultiPolygon) (ok bool) {
	sceneGeom := SceneGeometry(scene)
	if len(sceneGeom) == 0 {
		return true
	}
	if !sceneGeom.Bound().Intersects(parcel.Bound()) {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	return spatial.PlanarArea(spatial.Intersection(sceneGeom, parcel)) > 0
}

// CoverageRatio is the fraction of the parcel area inside the scene
// geometry, clamped to [0, 1]. Areas are planar in degrees.
func CoverageRatio(scene models.Scene, parcel orb.MultiPolygon) (ratio float64) {
	parcelArea := spatial.PlanarArea(parcel)
	if len(parcel) == 0 || parcelArea <= 0 {
		return 0
	}
	sceneGeom := SceneGeometry(scene)
	if len(sceneGeom) == 0 {
		return 0
	}

	defer func() {
		if recover() != nil {
			ratio = 0
		}
	}()
	covered := spatial.PlanarArea(spatial.Intersection(sceneGeom, parcel))
	if covered <= 0 {
		return 0
	}
	return min(1, max(0, covered/parcelArea))
}
