package raster

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeometryMask marks pixels whose centre lies inside mp. mp must be in the
// CRS of t.
func GeometryMask(mp orb.MultiPolygon, t Affine, width, height int) *Mask {
	m := NewMask(width, height, false)
	bound := mp.Bound()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px, py := t.Apply(float64(x)+0.5, float64(y)+0.5)
			p := orb.Point{px, py}
			if !bound.Contains(p) {
				continue
			}
			m.Data[y*width+x] = planar.MultiPolygonContains(mp, p)
		}
	}
	return m
}
