package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
	"github.com/jengzang/fieldscan-backend-go/internal/stats"
)

// PNG export bounds on the longest side
const (
	pngMaxSide = 1600
	pngMinSide = 800
)

var (
	cardBackground = color.RGBA{243, 245, 237, 255}
	cardHeader     = color.RGBA{34, 74, 44, 255}
	cardText       = color.RGBA{22, 22, 22, 255}
	cardMuted      = color.RGBA{80, 80, 80, 255}
	indexNoData    = color.RGBA{20, 20, 20, 255}
)

type metric struct {
	label string
	value *float64
}

func (e *Exporter) buildPNG(ctx context.Context, parcel *models.Parcel, layer *models.LayerAsset) ([]byte, error) {
	metrics, err := e.latestMetrics(ctx, parcel.ID)
	if err != nil {
		return nil, err
	}
	if layer == nil || layer.SourceURI == "" {
		return encodePNG(metricsCard(parcel.Name, metrics, e.now()))
	}

	payload, err := e.download(ctx, layer.SourceURI)
	if err != nil {
		return nil, err
	}
	img, err := renderLayer(payload)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return encodePNG(metricsCard(parcel.Name, metrics, e.now()))
	}
	return encodePNG(fitImage(img))
}

func (e *Exporter) latestMetrics(ctx context.Context, parcelID int64) ([]metric, error) {
	observations, err := e.db.Observations.ListByParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	var latest models.IndexSet
	if n := len(observations); n > 0 {
		latest = observations[n-1].IndicesNative
	}
	out := make([]metric, 0, 3)
	for _, name := range []string{"NDVI", "NDMI", "NDWI"} {
		m := metric{label: name + " mean"}
		if v, ok := latest.Mean(name); ok {
			m.value = &v
		}
		out = append(out, m)
	}
	return out, nil
}

// renderLayer draws a layer GeoTIFF: three or more bands as a stretched true
// colour composite, one band as a green ramp. It returns nil when a single
// band layer has no finite pixel.
func renderLayer(payload []byte) (image.Image, error) {
	ds, err := raster.OpenBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer: %w", err)
	}
	read := func(band int) (*raster.Grid, error) {
		g, err := ds.ReadBand(band)
		if err != nil {
			return nil, fmt.Errorf("failed to read layer band %d: %w", band, err)
		}
		ds.MaskNoData(g)
		return g, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, ds.Width, ds.Height))
	if ds.Count() >= 3 {
		var channels [3]*raster.Grid
		var scaled [3][]uint8
		for i := range channels {
			if channels[i], err = read(i + 1); err != nil {
				return nil, err
			}
			scaled[i] = stretch(channels[i].Data)
		}
		for i := range channels[0].Data {
			c := color.RGBA{scaled[0][i], scaled[1][i], scaled[2][i], 255}
			if !finite(channels[0].Data[i]) || !finite(channels[1].Data[i]) || !finite(channels[2].Data[i]) {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(i%ds.Width, i/ds.Width, c)
		}
		return img, nil
	}

	g, err := read(1)
	if err != nil {
		return nil, err
	}
	if len(stats.Finite(g.Data)) == 0 {
		return nil, nil
	}
	scaled := stretch(g.Data)
	for i, v := range g.Data {
		c := indexNoData
		if finite(v) {
			n := float64(scaled[i]) / 255
			c = color.RGBA{uint8(90 + n*60), uint8(70 + n*170), uint8(40 + n*70), 255}
		}
		img.SetRGBA(i%ds.Width, i/ds.Width, c)
	}
	return img, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// stretch maps the 2nd to 98th percentile of the finite values onto 0..255.
func stretch(values []float64) []uint8 {
	out := make([]uint8, len(values))
	ok := stats.Finite(values)
	if len(ok) == 0 {
		return out
	}
	ps := stats.Percentiles(ok, []float64{2, 98})
	lo, hi := ps[0], ps[1]
	denom := 1.0
	if hi > lo {
		denom = hi - lo
	}
	for i, v := range values {
		if !finite(v) {
			continue
		}
		n := math.Min(math.Max((v-lo)/denom, 0), 1)
		out[i] = uint8(n * 255)
	}
	return out
}

// fitImage shrinks images whose longest side exceeds 1600 px and enlarges
// those under 800 px, keeping the aspect ratio.
func fitImage(img image.Image) image.Image {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	var scale float64
	switch {
	case longest > pngMaxSide:
		scale = float64(pngMaxSide) / float64(longest)
	case longest < pngMinSide:
		scale = float64(pngMinSide) / float64(longest)
	default:
		return img
	}
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// metricsCard is rendered when there is no layer to draw.
func metricsCard(name string, metrics []metric, now time.Time) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1100, 700))
	draw.Draw(img, img.Bounds(), image.NewUniform(cardBackground), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, 1100, 90), image.NewUniform(cardHeader), image.Point{}, draw.Src)

	drawText(img, 30, 30, color.White, "Field Snapshot: "+name)
	y := 140
	for _, m := range metrics {
		value := "N/A"
		if m.value != nil {
			value = formatFloat(*m.value)
		}
		drawText(img, 40, y, cardText, m.label+": "+value)
		y += 52
	}
	drawText(img, 40, 640, cardMuted, "Generated UTC: "+now.UTC().Format(time.RFC3339))
	return img
}

// drawText places s with its top-left corner at (x, y).
func drawText(dst draw.Image, x, y int, c color.Color, s string) {
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(s)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
