package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Affine maps pixel (col, row) to CRS coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C, D, E, F float64
}

// Identity is the unit transform.
var Identity = Affine{A: 1, E: 1}

// FromOrigin builds a north-up transform from the upper left corner and pixel size.
func FromOrigin(west, north, xsize, ysize float64) Affine {
	return Affine{A: xsize, C: west, E: -ysize, F: north}
}

// Apply maps a pixel coordinate to CRS coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert returns the CRS to pixel transform.
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, fmt.Errorf("transform is not invertible")
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Affine{
		A: ia, B: ib, C: -(ia*t.C + ib*t.F),
		D: id, E: ie, F: -(id*t.C + ie*t.F),
	}, nil
}

// Scale returns t composed with a pixel scaling, so one new pixel spans
// (sx, sy) old pixels.
func (t Affine) Scale(sx, sy float64) Affine {
	return Affine{A: t.A * sx, B: t.B * sy, C: t.C, D: t.D * sx, E: t.E * sy, F: t.F}
}

// Translate moves the origin to pixel (col, row).
func (t Affine) Translate(col, row float64) Affine {
	x, y := t.Apply(col, row)
	return Affine{A: t.A, B: t.B, C: x, D: t.D, E: t.E, F: y}
}

// PixelSize returns the absolute pixel width and height for north-up transforms.
func (t Affine) PixelSize() (float64, float64) {
	return math.Hypot(t.A, t.D), math.Hypot(t.B, t.E)
}

// Window is a pixel rectangle; it may extend beyond the raster.
type Window struct {
	ColOff int
	RowOff int
	Width  int
	Height int
}

// Empty reports a window without pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

const windowSnap = 1e-6

// WindowFromBounds returns the smallest pixel window covering b.
func WindowFromBounds(t Affine, b orb.Bound) (Window, error) {
	inv, err := t.Invert()
	if err != nil {
		return Window{}, err
	}

	corners := []orb.Point{
		{b.Min[0], b.Min[1]}, {b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]}, {b.Min[0], b.Max[1]},
	}
	minCol, minRow := math.Inf(1), math.Inf(1)
	maxCol, maxRow := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		col, row := inv.Apply(c[0], c[1])
		minCol = math.Min(minCol, col)
		maxCol = math.Max(maxCol, col)
		minRow = math.Min(minRow, row)
		maxRow = math.Max(maxRow, row)
	}

	col0 := int(math.Floor(minCol + windowSnap))
	row0 := int(math.Floor(minRow + windowSnap))
	col1 := int(math.Ceil(maxCol - windowSnap))
	row1 := int(math.Ceil(maxRow - windowSnap))
	return Window{ColOff: col0, RowOff: row0, Width: col1 - col0, Height: row1 - row0}, nil
}
