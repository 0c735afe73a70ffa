package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentilesInterpolateLinearly(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}

	assert.Equal(t, 3.0, Percentile(values, 50))
	assert.InDelta(t, 1.4, Percentile(values, 10), 1e-12)
	assert.InDelta(t, 4.6, Percentile(values, 90), 1e-12)
	assert.Equal(t, 5.0, Percentile(values, 150))
	assert.Equal(t, []float64{0, 0}, Percentiles(nil, []float64{10, 90}))
	// input is not reordered
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values)
}

func TestSummarizeIgnoresNonFinite(t *testing.T) {
	xs := []float64{math.NaN(), 0.2, math.Inf(1), 0.4, 0.6, math.NaN()}

	s, ok := Summarize(xs)
	assert.True(t, ok)
	assert.Equal(t, 0.2, s.Min)
	assert.Equal(t, 0.6, s.Max)
	assert.InDelta(t, 0.4, s.Mean, 1e-12)
	assert.InDelta(t, 0.24, s.P10, 1e-12)
	assert.InDelta(t, 0.56, s.P90, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	_, ok := Summarize([]float64{math.NaN(), math.NaN()})
	assert.False(t, ok)
	assert.True(t, math.IsNaN(NanMax(nil)))
	assert.Equal(t, 3.0, NanMax([]float64{1, math.NaN(), 3}))
}
