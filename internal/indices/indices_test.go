package indices

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

func filled(v float64) *raster.Grid {
	return raster.NewGridFilled(3, 3, v)
}

func TestNDVIFromReflectance(t *testing.T) {
	bands := map[string]*raster.Grid{NIR: filled(0.6), Red: filled(0.4)}

	rasters, set := Compute(bands, raster.NewMask(3, 3, true))
	require.Contains(t, rasters, "NDVI")
	require.Contains(t, rasters, "SAVI")
	assert.NotContains(t, rasters, "EVI")

	mean, ok := set.Mean("NDVI")
	require.True(t, ok)
	assert.InDelta(t, 0.2, mean, 1e-9)

	savi, _ := set.Mean("SAVI")
	assert.InDelta(t, 1.5*0.2/1.5, savi, 1e-9)
}

func TestScaledIntegersAreNormalized(t *testing.T) {
	bands := map[string]*raster.Grid{
		NIR:  filled(6000),
		Red:  filled(4000),
		Blue: filled(1000),
	}
	_, set := Compute(bands, nil)

	evi, ok := set.Mean("EVI")
	require.True(t, ok)
	// 2.5*(0.6-0.4)/(0.6+2.4-0.75+1)
	assert.InDelta(t, 0.5/3.25, evi, 1e-9)
	assert.Equal(t, 6000.0, bands[NIR].Data[0])
}

func TestMaskedAndDegeneratePixelsAreNaN(t *testing.T) {
	nir := filled(0)
	red := filled(0)
	nir.Data[0], red.Data[0] = 0.5, 0.3
	nir.Data[1], red.Data[1] = 0.5, 0.3

	mask := raster.NewMask(3, 3, true)
	mask.Data[1] = false

	rasters := ComputeRasters(map[string]*raster.Grid{NIR: nir, Red: red}, mask)
	ndvi := rasters["NDVI"]
	assert.InDelta(t, 0.25, ndvi.Data[0], 1e-9)
	assert.True(t, math.IsNaN(ndvi.Data[1]))
	// 0/0
	assert.True(t, math.IsNaN(ndvi.Data[2]))
	for _, v := range ndvi.Data {
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestStatsAllNilWithoutFinitePixels(t *testing.T) {
	s := ComputeStats(filled(math.NaN()))
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Mean)
	assert.Nil(t, s.P90)
}

func TestAvailableIndices(t *testing.T) {
	assert.Equal(t, []string{"NDVI", "SAVI"}, AvailableIndices([]string{"B04", "B08"}))
	assert.Equal(t,
		[]string{"EVI", "NDMI", "NDRE", "NDVI", "NDWI", "SAVI"},
		AvailableIndices([]string{"B02", "B03", "B04", "B05", "B08", "B11"}))
	assert.Empty(t, AvailableIndices([]string{"B02", "B03"}))

	for name, bands := range Requirements() {
		assert.Contains(t, AvailableIndices(bands), name)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	nir := raster.NewGrid(4, 4)
	red := raster.NewGrid(4, 4)
	swir := raster.NewGrid(4, 4)
	for i := range nir.Data {
		nir.Data[i] = 3000 + float64(i*97%13)*100
		red.Data[i] = 900 + float64(i*31%7)*50
		swir.Data[i] = 1800 + float64(i%5)*40
	}
	bands := map[string]*raster.Grid{NIR: nir, Red: red, SWIR1: swir}
	mask := raster.NewMask(4, 4, true)
	mask.Data[5] = false

	_, first := Compute(bands, mask)
	_, second := Compute(bands, mask)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("statistics differ (-first +second):\n%s", diff)
	}
}

func TestValidPixelRatio(t *testing.T) {
	m := raster.NewMask(2, 2, true)
	m.Data[0] = false
	assert.Equal(t, 0.75, ValidPixelRatio(m))
	assert.Equal(t, 0.0, ValidPixelRatio(raster.NewMask(0, 0, true)))
}
