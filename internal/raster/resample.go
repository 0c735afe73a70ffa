package raster

import (
	"fmt"
	"math"
)

// Resampling selects how samples are interpolated between grids.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
)

// Sample returns the value at continuous pixel coordinate (fx, fy), where
// pixel (i, j) spans [i, i+1) x [j, j+1). Outside the grid it returns NaN.
func (g *Grid) Sample(fx, fy float64, method Resampling) float64 {
	if fx < 0 || fy < 0 || fx >= float64(g.Width) || fy >= float64(g.Height) {
		return math.NaN()
	}
	if method == Nearest {
		return g.At(int(fx), int(fy))
	}
	return g.bilinear(fx-0.5, fy-0.5)
}

// bilinear interpolates around centre-based coordinates, renormalising the
// weights over finite neighbours so nodata does not bleed into valid pixels.
func (g *Grid) bilinear(cx, cy float64) float64 {
	x0 := int(math.Floor(cx))
	y0 := int(math.Floor(cy))
	tx := cx - float64(x0)
	ty := cy - float64(y0)

	var sum, weight float64
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			x := clampInt(x0+dx, 0, g.Width-1)
			y := clampInt(y0+dy, 0, g.Height-1)
			v := g.At(x, y)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			wx := tx
			if dx == 0 {
				wx = 1 - tx
			}
			wy := ty
			if dy == 0 {
				wy = 1 - ty
			}
			w := wx * wy
			sum += v * w
			weight += w
		}
	}
	if weight <= 1e-12 {
		return g.At(clampInt(int(math.Round(cx)), 0, g.Width-1), clampInt(int(math.Round(cy)), 0, g.Height-1))
	}
	return sum / weight
}

// Resize maps g onto a width x height grid covering the same extent.
func Resize(g *Grid, width, height int, method Resampling) *Grid {
	if g.Width == width && g.Height == height {
		return g.Clone()
	}
	out := NewGrid(width, height)
	sx := float64(g.Width) / float64(width)
	sy := float64(g.Height) / float64(height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, g.Sample((float64(x)+0.5)*sx, (float64(y)+0.5)*sy, method))
		}
	}
	return out
}

// BlockRepeat enlarges g by repeating every sample factor times along both axes.
func BlockRepeat(g *Grid, factor int) (*Grid, error) {
	if factor < 1 {
		return nil, fmt.Errorf("invalid repeat factor %d", factor)
	}
	out := NewGrid(g.Width*factor, g.Height*factor)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, g.At(x/factor, y/factor))
		}
	}
	return out, nil
}

// RepeatMask upsamples m to width x height by block repetition with a
// ceiling factor per axis, cropping the overshoot.
func RepeatMask(m *Mask, width, height int) *Mask {
	fy := int(math.Ceil(float64(height) / float64(max(m.Height, 1))))
	fx := int(math.Ceil(float64(width) / float64(max(m.Width, 1))))
	fy = max(fy, 1)
	fx = max(fx, 1)

	out := NewMask(width, height, false)
	for y := 0; y < height; y++ {
		sy := y / fy
		if sy >= m.Height {
			continue
		}
		for x := 0; x < width; x++ {
			sx := x / fx
			if sx >= m.Width {
				continue
			}
			out.Data[y*width+x] = m.At(sx, sy)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
