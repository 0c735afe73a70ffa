package spatial

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTMCentralMeridian(t *testing.T) {
	p, err := ProjectionFor(32633)
	require.NoError(t, err)

	x, y := p.Forward(15, 0)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	x, y = p.Forward(15, 45)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 4982950.4, y, 1.0)
}

func TestUTMSouthernFalseNorthing(t *testing.T) {
	p, err := ProjectionFor(32733)
	require.NoError(t, err)

	_, y := p.Forward(15, -10)
	assert.Less(t, y, 10000000.0)
	assert.Greater(t, y, 8800000.0)
}

func TestUTMDistancesAgreeWithHaversine(t *testing.T) {
	p, err := ProjectionFor(32633)
	require.NoError(t, err)

	x1, y1 := p.Forward(15.0, 48.0)
	x2, y2 := p.Forward(15.01, 48.0)
	projected := math.Hypot(x2-x1, y2-y1)

	// scale factor and sphere/ellipsoid differences stay well under 1%
	assert.InEpsilon(t, HaversineDistance(48, 15, 48, 15.01), projected, 0.01)
}

func TestWebMercatorOrigin(t *testing.T) {
	p, err := ProjectionFor(3857)
	require.NoError(t, err)

	x, y := p.Forward(0, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	x, _ = p.Forward(180, 0)
	assert.InDelta(t, 20037508.34, x, 0.01)
}

func TestParseEPSG(t *testing.T) {
	code, err := ParseEPSG("EPSG:32631")
	require.NoError(t, err)
	assert.Equal(t, 32631, code)

	code, err = ParseEPSG("4326")
	require.NoError(t, err)
	assert.Equal(t, 4326, code)

	_, err = ParseEPSG("WGS84")
	assert.Error(t, err)

	_, err = ProjectionFor(2154)
	assert.Error(t, err)
}

func TestProjectMultiPolygonKeepsShape(t *testing.T) {
	mp := orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}}
	out := ProjectMultiPolygon(mp, geographic{})
	assert.Equal(t, mp, out)
}

func TestGroundPixelSizeAtEquator(t *testing.T) {
	w, h := GroundPixelSize(orb.Point{0, 0}, 0.0001, 0.0001)
	assert.InDelta(t, 11.12, w, 0.05)
	assert.InDelta(t, 11.12, h, 0.05)
}
