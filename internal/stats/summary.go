package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds the descriptive statistics reported for a raster.
type Summary struct {
	Min  float64
	Max  float64
	Mean float64
	P10  float64
	P90  float64
}

// Finite returns the finite values of xs in their original order.
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Summarize computes min/max/mean/p10/p90 over the finite values of xs.
// ok is false when there are none.
func Summarize(xs []float64) (s Summary, ok bool) {
	finite := Finite(xs)
	if len(finite) == 0 {
		return Summary{}, false
	}

	ps := Percentiles(finite, []float64{10, 90})
	return Summary{
		Min:  floats.Min(finite),
		Max:  floats.Max(finite),
		Mean: stat.Mean(finite, nil),
		P10:  ps[0],
		P90:  ps[1],
	}, true
}

// NanMax returns the largest finite value, or NaN when there is none.
func NanMax(xs []float64) float64 {
	finite := Finite(xs)
	if len(finite) == 0 {
		return math.NaN()
	}
	return floats.Max(finite)
}
