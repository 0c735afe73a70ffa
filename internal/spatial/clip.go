package spatial

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minRingArea drops slivers produced by clipping, in squared degrees.
const minRingArea = 1e-14

// Repair rebuilds the multipolygon so that rings do not self-intersect and
// member polygons do not overlap. Overlapping members are unioned; a single
// self-intersecting ring keeps every even-odd filled lobe.
func Repair(mp orb.MultiPolygon) orb.MultiPolygon {
	if len(mp) == 0 {
		return mp
	}

	result := toClip(orb.MultiPolygon{mp[0]})
	result = result.Construct(polyclip.INTERSECTION, boundsContour(mp))
	for _, poly := range mp[1:] {
		next := toClip(orb.MultiPolygon{poly})
		next = next.Construct(polyclip.INTERSECTION, boundsContour(mp))
		result = result.Construct(polyclip.UNION, next)
	}
	return fromClip(result)
}

// Intersection returns the overlap of two multipolygons.
func Intersection(a, b orb.MultiPolygon) orb.MultiPolygon {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	return fromClip(toClip(a).Construct(polyclip.INTERSECTION, toClip(b)))
}

// Union merges two multipolygons.
func Union(a, b orb.MultiPolygon) orb.MultiPolygon {
	return fromClip(toClip(a).Construct(polyclip.UNION, toClip(b)))
}

// boundsContour is a rectangle strictly containing mp. Clipping against it
// forces a full sweep, which is what resolves self intersections.
func boundsContour(mp orb.MultiPolygon) polyclip.Polygon {
	b := mp.Bound()
	padX := math.Max((b.Max[0]-b.Min[0])*0.01, 1e-9)
	padY := math.Max((b.Max[1]-b.Min[1])*0.01, 1e-9)
	return polyclip.Polygon{{
		{X: b.Min[0] - padX, Y: b.Min[1] - padY},
		{X: b.Max[0] + padX, Y: b.Min[1] - padY},
		{X: b.Max[0] + padX, Y: b.Max[1] + padY},
		{X: b.Min[0] - padX, Y: b.Max[1] + padY},
	}}
}

func toClip(mp orb.MultiPolygon) polyclip.Polygon {
	var out polyclip.Polygon
	for _, poly := range mp {
		for _, ring := range poly {
			n := len(ring)
			if n > 1 && ring[0] == ring[n-1] {
				n--
			}
			if n < 3 {
				continue
			}
			c := make(polyclip.Contour, 0, n)
			for _, p := range ring[:n] {
				c = append(c, polyclip.Point{X: p[0], Y: p[1]})
			}
			out = append(out, c)
		}
	}
	return out
}

// fromClip turns the flat contour list returned by the clipper back into
// polygons with holes, using nesting depth to tell shells from holes.
func fromClip(p polyclip.Polygon) orb.MultiPolygon {
	rings := make([]orb.Ring, 0, len(p))
	for _, c := range p {
		if len(c) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		ring = append(ring, ring[0])
		if math.Abs(planar.Area(ring)) < minRingArea {
			continue
		}
		rings = append(rings, ring)
	}

	depth := make([]int, len(rings))
	for i, r := range rings {
		probe := interiorProbe(r)
		for j, other := range rings {
			if i != j && planar.RingContains(other, probe) {
				depth[i]++
			}
		}
	}

	type shell struct {
		ring  orb.Ring
		depth int
		area  float64
		holes []orb.Ring
	}
	var shells []*shell
	for i, r := range rings {
		if depth[i]%2 == 0 {
			shells = append(shells, &shell{ring: r, depth: depth[i], area: math.Abs(planar.Area(r))})
		}
	}
	sort.Slice(shells, func(i, j int) bool { return shells[i].area < shells[j].area })

	for i, r := range rings {
		if depth[i]%2 == 0 {
			continue
		}
		probe := interiorProbe(r)
		for _, s := range shells {
			if s.depth == depth[i]-1 && planar.RingContains(s.ring, probe) {
				s.holes = append(s.holes, r)
				break
			}
		}
	}

	out := make(orb.MultiPolygon, 0, len(shells))
	for _, s := range shells {
		if s.ring.Orientation() != orb.CCW {
			s.ring.Reverse()
		}
		poly := orb.Polygon{s.ring}
		for _, h := range s.holes {
			if h.Orientation() != orb.CW {
				h.Reverse()
			}
			poly = append(poly, h)
		}
		out = append(out, poly)
	}
	return out
}

// interiorProbe returns a point just inside the ring near its first edge,
// so shared vertices between rings do not confuse the containment test.
func interiorProbe(r orb.Ring) orb.Point {
	a, b := r[0], r[1]
	mid := orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return a
	}
	eps := length * 1e-6
	// left normal is inside for a counter-clockwise ring
	nx, ny := -dy/length*eps, dx/length*eps
	if r.Orientation() == orb.CW {
		nx, ny = -nx, -ny
	}
	return orb.Point{mid[0] + nx, mid[1] + ny}
}

func closeRings(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, poly := range mp {
		var fixed orb.Polygon
		for _, ring := range poly {
			if len(ring) == 0 {
				continue
			}
			if ring[0] != ring[len(ring)-1] {
				ring = append(ring.Clone(), ring[0])
			}
			fixed = append(fixed, ring)
		}
		if len(fixed) > 0 {
			out = append(out, fixed)
		}
	}
	return out
}

func dropDegenerate(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, poly := range mp {
		if len(poly) == 0 || len(poly[0]) < 4 || math.Abs(planar.Area(poly[0])) < minRingArea {
			continue
		}
		kept := orb.Polygon{orient(poly[0], orb.CCW)}
		for _, hole := range poly[1:] {
			if len(hole) >= 4 && math.Abs(planar.Area(hole)) >= minRingArea {
				kept = append(kept, orient(hole, orb.CW))
			}
		}
		out = append(out, kept)
	}
	return out
}

// orient returns r wound in direction o, copying only when it must reverse.
func orient(r orb.Ring, o orb.Orientation) orb.Ring {
	if r.Orientation() == o {
		return r
	}
	c := r.Clone()
	c.Reverse()
	return c
}

// needsRepair reports overlapping members or self-intersecting rings.
func needsRepair(mp orb.MultiPolygon) bool {
	if len(mp) > 1 {
		return true
	}
	for _, poly := range mp {
		for _, ring := range poly {
			if len(ring) < 4 || ringSelfIntersects(ring) {
				return true
			}
		}
	}
	return false
}

func ringSelfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsCross(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
