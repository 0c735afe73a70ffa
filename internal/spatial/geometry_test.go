package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
)

const smallSquare = `{"type":"Polygon","coordinates":[[[0,0],[0.01,0],[0.01,0.01],[0,0.01],[0,0]]]}`

func TestNormalizePolygonHasPositiveArea(t *testing.T) {
	mp, err := Normalize([]byte(smallSquare))
	require.NoError(t, err)
	require.Len(t, mp, 1)

	area := AreaHectares(mp)
	assert.Greater(t, area, 0.0)
	// 0.01 degree square at the equator
	assert.InDelta(t, 123.1, area, 0.5)
}

func TestNormalizeWindingDoesNotMatter(t *testing.T) {
	clockwise := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}`
	mp, err := Normalize([]byte(clockwise))
	require.NoError(t, err)
	require.Len(t, mp, 1)
	assert.Equal(t, orb.CCW, mp[0][0].Orientation())
	assert.InDelta(t, 1.0, PlanarArea(mp), 1e-9)
	assert.Greater(t, AreaHectares(mp), 0.0)

	// counter-clockwise hole in a clockwise shell
	inverted := `{"type":"Polygon","coordinates":[
		[[0,0],[0,4],[4,4],[4,0],[0,0]],
		[[1,1],[2,1],[2,2],[1,2],[1,1]]
	]}`
	mp, err = Normalize([]byte(inverted))
	require.NoError(t, err)
	require.Len(t, mp, 1)
	require.Len(t, mp[0], 2)
	assert.Equal(t, orb.CW, mp[0][1].Orientation())
	assert.InDelta(t, 15.0, PlanarArea(mp), 1e-9)
}

func TestNormalizeRepairsBowtieKeepingBothLobes(t *testing.T) {
	bowtie := `{"type":"Polygon","coordinates":[[[0,0],[2,2],[2,0],[0,2],[0,0]]]}`
	mp, err := Normalize([]byte(bowtie))
	require.NoError(t, err)
	require.NotEmpty(t, mp)
	assert.InDelta(t, 2.0, PlanarArea(mp), 1e-9)
	for _, poly := range mp {
		assert.Equal(t, orb.CCW, poly[0].Orientation())
	}
}

func TestAreaHectaresSubtractsHoles(t *testing.T) {
	shell := orb.Ring{{0, 0}, {0.02, 0}, {0.02, 0.02}, {0, 0.02}, {0, 0}}
	hole := orb.Ring{{0.005, 0.005}, {0.005, 0.015}, {0.015, 0.015}, {0.015, 0.005}, {0.005, 0.005}}
	full := AreaHectares(orb.MultiPolygon{{shell}})
	holed := AreaHectares(orb.MultiPolygon{{shell, hole}})
	assert.InDelta(t, full*0.75, holed, 1)
}

func TestNormalizeAcceptsFeatureWrappers(t *testing.T) {
	feature := `{"type":"Feature","properties":{},"geometry":` + smallSquare + `}`
	mp, err := Normalize([]byte(feature))
	require.NoError(t, err)
	assert.Len(t, mp, 1)

	fc := `{"type":"FeatureCollection","features":[` + feature + `]}`
	mp, err = Normalize([]byte(fc))
	require.NoError(t, err)
	assert.InDelta(t, 1e-4, PlanarArea(mp), 1e-12)
}

func TestNormalizeUnionsCollectionMembers(t *testing.T) {
	raw := `{"type":"GeometryCollection","geometries":[
		{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
		{"type":"Polygon","coordinates":[[[1,1],[3,1],[3,3],[1,3],[1,1]]]},
		{"type":"Point","coordinates":[5,5]}
	]}`

	mp, err := Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, mp, 1)
	assert.InDelta(t, 7.0, PlanarArea(mp), 1e-9)
}

func TestNormalizeKeepsHoles(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[
		[[0,0],[4,0],[4,4],[0,4],[0,0]],
		[[1,1],[1,2],[2,2],[2,1],[1,1]]
	]}`

	mp, err := Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, mp, 1)
	assert.Len(t, mp[0], 2)
	assert.InDelta(t, 15.0, PlanarArea(mp), 1e-9)
}

func TestNormalizeRejectsNonPolygons(t *testing.T) {
	inputs := []string{
		`{"type":"LineString","coordinates":[[0,0],[1,1]]}`,
		`{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[1,1]}]}`,
		`{"type":"FeatureCollection","features":[]}`,
		`not json`,
	}
	for _, raw := range inputs {
		_, err := Normalize([]byte(raw))
		require.Error(t, err, raw)
		assert.Equal(t, apperr.CodeInvalidGeometry, apperr.CodeOf(err), raw)
	}
}

func TestEnforceLimit(t *testing.T) {
	assert.NoError(t, EnforceLimit(9999.9, DefaultMaxAreaHa))
	assert.NoError(t, EnforceLimit(DefaultMaxAreaHa, DefaultMaxAreaHa))

	err := EnforceLimit(10000.5, DefaultMaxAreaHa)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidGeometry))
}

func TestIntersectionHalfOverlap(t *testing.T) {
	a := orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}}
	b := orb.MultiPolygon{{{{0.5, 0}, {1.5, 0}, {1.5, 1}, {0.5, 1}, {0.5, 0}}}}

	assert.InDelta(t, 0.5, PlanarArea(Intersection(a, b)), 1e-9)
	assert.InDelta(t, 1.5, PlanarArea(Union(a, b)), 1e-9)
}

func TestMarshalRoundTripThroughStorage(t *testing.T) {
	mp, err := Normalize([]byte(smallSquare))
	require.NoError(t, err)

	data, err := MarshalGeoJSON(mp)
	require.NoError(t, err)

	back, err := UnmarshalMultiPolygon(data)
	require.NoError(t, err)
	assert.Equal(t, mp, back)
}
