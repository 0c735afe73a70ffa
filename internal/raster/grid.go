// Package raster reads and writes GeoTIFF imagery and extracts aligned band
// patches under a parcel footprint.
package raster

import (
	"math"
)

// Grid is a single band of float samples in row-major order.
type Grid struct {
	Width  int
	Height int
	Data   []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Data: make([]float64, width*height)}
}

// NewGridFilled allocates a grid with every sample set to v.
func NewGridFilled(width, height int, v float64) *Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// At returns the sample at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set stores v at column x, row y.
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Width: g.Width, Height: g.Height, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// SameShape reports whether both grids have identical dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Finite reports a mask of the finite samples.
func (g *Grid) Finite() *Mask {
	m := NewMask(g.Width, g.Height, false)
	for i, v := range g.Data {
		m.Data[i] = !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	return m
}

// ReplaceValue sets every sample equal to from to the value to.
func (g *Grid) ReplaceValue(from, to float64) {
	for i, v := range g.Data {
		if v == from {
			g.Data[i] = to
		}
	}
}

// Mask is a boolean grid; true marks a usable pixel.
type Mask struct {
	Width  int
	Height int
	Data   []bool
}

// NewMask allocates a mask with every pixel set to v.
func NewMask(width, height int, v bool) *Mask {
	m := &Mask{Width: width, Height: height, Data: make([]bool, width*height)}
	if v {
		for i := range m.Data {
			m.Data[i] = true
		}
	}
	return m
}

// At returns the pixel at column x, row y.
func (m *Mask) At(x, y int) bool {
	return m.Data[y*m.Width+x]
}

// And clears every pixel not set in o. Shapes must match.
func (m *Mask) And(o *Mask) {
	for i := range m.Data {
		m.Data[i] = m.Data[i] && o.Data[i]
	}
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Ratio is the fraction of set pixels, 0 for an empty mask.
func (m *Mask) Ratio() float64 {
	if len(m.Data) == 0 {
		return 0
	}
	return float64(m.Count()) / float64(len(m.Data))
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{Width: m.Width, Height: m.Height, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}
