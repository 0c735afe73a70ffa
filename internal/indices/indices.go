// Package indices derives vegetation indices from aligned Sentinel-2 bands.
package indices

import (
	"math"
	"sort"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
	"github.com/jengzang/fieldscan-backend-go/internal/stats"
)

// Band names
const (
	Blue    = "B02"
	Green   = "B03"
	Red     = "B04"
	RedEdge = "B05"
	NIR     = "B08"
	SWIR1   = "B11"
)

// reflectanceScale converts surface reflectance integers to 0..1.
const reflectanceScale = 10000.0

type definition struct {
	name     string
	requires []string
	formula  func(b map[string]float64) (num, den float64)
}

var definitions = []definition{
	{"NDVI", []string{NIR, Red}, func(b map[string]float64) (float64, float64) {
		return b[NIR] - b[Red], b[NIR] + b[Red]
	}},
	{"SAVI", []string{NIR, Red}, func(b map[string]float64) (float64, float64) {
		return 1.5 * (b[NIR] - b[Red]), b[NIR] + b[Red] + 0.5
	}},
	{"NDMI", []string{NIR, SWIR1}, func(b map[string]float64) (float64, float64) {
		return b[NIR] - b[SWIR1], b[NIR] + b[SWIR1]
	}},
	{"NDWI", []string{Green, NIR}, func(b map[string]float64) (float64, float64) {
		return b[Green] - b[NIR], b[Green] + b[NIR]
	}},
	{"EVI", []string{NIR, Red, Blue}, func(b map[string]float64) (float64, float64) {
		return 2.5 * (b[NIR] - b[Red]), b[NIR] + 6*b[Red] - 7.5*b[Blue] + 1
	}},
	{"NDRE", []string{NIR, RedEdge}, func(b map[string]float64) (float64, float64) {
		return b[NIR] - b[RedEdge], b[NIR] + b[RedEdge]
	}},
}

// Requirements returns the bands each index needs.
func Requirements() map[string][]string {
	out := make(map[string][]string, len(definitions))
	for _, d := range definitions {
		out[d.name] = append([]string(nil), d.requires...)
	}
	return out
}

func satisfied(requires []string, has func(string) bool) bool {
	for _, b := range requires {
		if !has(b) {
			return false
		}
	}
	return true
}

// AvailableIndices returns the sorted names of indices computable from bands.
func AvailableIndices(bands []string) []string {
	set := make(map[string]bool, len(bands))
	for _, b := range bands {
		set[b] = true
	}
	var names []string
	for _, d := range definitions {
		if satisfied(d.requires, func(b string) bool { return set[b] }) {
			names = append(names, d.name)
		}
	}
	sort.Strings(names)
	return names
}

// normalize scales a band to 0..1 when its finite maximum suggests
// integer surface reflectance.
func normalize(g *raster.Grid) *raster.Grid {
	if m := stats.NanMax(g.Data); !math.IsNaN(m) && m > 2.0 {
		out := g.Clone()
		for i := range out.Data {
			out.Data[i] /= reflectanceScale
		}
		return out
	}
	return g
}

// ComputeRasters computes every index whose bands are present. Pixels outside
// valid (nil means all valid) and non-finite ratios become NaN. Inputs are
// not modified.
func ComputeRasters(bands map[string]*raster.Grid, valid *raster.Mask) map[string]*raster.Grid {
	if len(bands) == 0 {
		return map[string]*raster.Grid{}
	}
	normalized := make(map[string]*raster.Grid, len(bands))
	var width, height int
	for name, g := range bands {
		normalized[name] = normalize(g)
		width, height = g.Width, g.Height
	}

	out := make(map[string]*raster.Grid)
	sample := make(map[string]float64, len(bands))
	for _, d := range definitions {
		if !satisfied(d.requires, func(b string) bool { _, ok := normalized[b]; return ok }) {
			continue
		}
		g := raster.NewGrid(width, height)
		for i := range g.Data {
			if valid != nil && !valid.Data[i] {
				g.Data[i] = math.NaN()
				continue
			}
			for _, b := range d.requires {
				sample[b] = normalized[b].Data[i]
			}
			g.Data[i] = safeDivide(d.formula(sample))
		}
		out[d.name] = g
	}
	return out
}

func safeDivide(num, den float64) float64 {
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// ComputeStats summarises g over its finite pixels; all fields stay nil
// when there are none.
func ComputeStats(g *raster.Grid) models.IndexStats {
	s, ok := stats.Summarize(g.Data)
	if !ok {
		return models.IndexStats{}
	}
	return models.IndexStats{
		Min:  ptr(s.Min),
		Max:  ptr(s.Max),
		Mean: ptr(s.Mean),
		P10:  ptr(s.P10),
		P90:  ptr(s.P90),
	}
}

// Summaries converts index rasters to their persisted statistics.
func Summaries(rasters map[string]*raster.Grid) models.IndexSet {
	out := make(models.IndexSet, len(rasters))
	for name, g := range rasters {
		out[name] = models.IndexSummary{Stats: ComputeStats(g)}
	}
	return out
}

// Compute returns both the index rasters and their statistics.
func Compute(bands map[string]*raster.Grid, valid *raster.Mask) (map[string]*raster.Grid, models.IndexSet) {
	rasters := ComputeRasters(bands, valid)
	return rasters, Summaries(rasters)
}

// ValidPixelRatio is the fraction of set pixels in m.
func ValidPixelRatio(m *raster.Mask) float64 {
	if m == nil {
		return 0
	}
	return m.Ratio()
}

// SortedNames returns the index names of rasters in ascending order.
func SortedNames(rasters map[string]*raster.Grid) []string {
	names := make([]string, 0, len(rasters))
	for name := range rasters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ptr(v float64) *float64 {
	return &v
}
