package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// WGS84 ellipsoid
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	utmK0  = 0.9996
)

// Projection maps geographic lon/lat degrees into a projected CRS.
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	EPSG() int
}

// ProjectionFor returns the forward projection for an EPSG code. Supported:
// 4326 (identity), 3857 (web mercator), 32601-32660 and 32701-32760 (UTM).
func ProjectionFor(epsg int) (Projection, error) {
	switch {
	case epsg == 4326:
		return geographic{}, nil
	case epsg == 3857:
		return webMercator{}, nil
	case epsg > 32600 && epsg <= 32660:
		return newUTM(epsg-32600, false, epsg), nil
	case epsg > 32700 && epsg <= 32760:
		return newUTM(epsg-32700, true, epsg), nil
	}
	return nil, fmt.Errorf("unsupported CRS EPSG:%d", epsg)
}

// ParseEPSG accepts "EPSG:32633" or a bare code.
func ParseEPSG(crs string) (int, error) {
	s := strings.TrimSpace(strings.ToUpper(crs))
	s = strings.TrimPrefix(s, "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid CRS %q", crs)
	}
	return code, nil
}

// ProjectMultiPolygon applies p to every vertex.
func ProjectMultiPolygon(mp orb.MultiPolygon, p Projection) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, pt := range ring {
				x, y := p.Forward(pt[0], pt[1])
				r[k] = orb.Point{x, y}
			}
			out[i][j] = r
		}
	}
	return out
}

type geographic struct{}

func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) EPSG() int                                   { return 4326 }

type webMercator struct{}

func (webMercator) Forward(lon, lat float64) (float64, float64) {
	x := wgs84A * lon * math.Pi / 180
	y := wgs84A * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}
func (webMercator) EPSG() int { return 3857 }

// utm is the transverse mercator series from Snyder, "Map Projections: A
// Working Manual", eq. 8-9 to 8-10. Accuracy is millimetric inside the zone.
type utm struct {
	lon0  float64
	south bool
	epsg  int
	e2    float64
	ep2   float64
}

func newUTM(zone int, south bool, epsg int) utm {
	e2 := wgs84F * (2 - wgs84F)
	return utm{
		lon0:  float64(zone-1)*6 - 180 + 3,
		south: south,
		epsg:  epsg,
		e2:    e2,
		ep2:   e2 / (1 - e2),
	}
}

func (u utm) EPSG() int { return u.epsg }

func (u utm) Forward(lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	lam := (lon - u.lon0) * math.Pi / 180

	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	tanPhi := math.Tan(phi)
	e2, e4, e6 := u.e2, u.e2*u.e2, u.e2*u.e2*u.e2

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := u.ep2 * cosPhi * cosPhi
	a := cosPhi * lam

	m := wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	a2 := a * a
	x := utmK0*n*(a+(1-t+c)*a2*a/6+(5-18*t+t*t+72*c-58*u.ep2)*a2*a2*a/120) + 500000
	y := utmK0 * (m + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a2*a2/24+(61-58*t+t*t+600*c-330*u.ep2)*a2*a2*a2/720))
	if u.south {
		y += 10000000
	}
	return x, y
}
