package raster

import (
	"context"
	"math"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
)

const (
	// ReferenceBand defines the pixel grid every other band is aligned to.
	ReferenceBand = "B04"
	// SCLAsset is the Sentinel-2 scene classification layer.
	SCLAsset = "SCL"
)

// InvalidSCLClasses are the scene classification codes excluded from the
// validity mask: no data, saturated or defective, cloud shadow, cloud medium
// and high probability, thin cirrus and snow.
var InvalidSCLClasses = map[int]bool{0: true, 1: true, 3: true, 8: true, 9: true, 10: true, 11: true}

// Patch is a set of aligned band grids under a parcel.
type Patch struct {
	Bands     map[string]*Grid
	Valid     *Mask
	Transform Affine
	EPSG      int
}

// Width of the patch grid.
func (p *Patch) Width() int { return p.Valid.Width }

// Height of the patch grid.
func (p *Patch) Height() int { return p.Valid.Height }

// CRS returns "EPSG:<code>".
func (p *Patch) CRS() string {
	return "EPSG:" + strconv.Itoa(p.EPSG)
}

// PatchReader extracts band windows from scene assets.
type PatchReader struct {
	opener *Opener
}

// NewPatchReader returns a reader opening assets through opener.
func NewPatchReader(opener *Opener) *PatchReader {
	if opener == nil {
		opener = NewOpener(nil)
	}
	return &PatchReader{opener: opener}
}

func rasterError(format string, args ...interface{}) error {
	return apperr.Newf(apperr.CodeRaster, format, args...)
}

// ReadPatch reads the window covering parcel from each requested band,
// resampled onto the reference band grid. Bands without an asset are left
// out. The validity mask combines the parcel footprint, finite reference
// samples and the scene classification blacklist when an SCL asset exists.
func (r *PatchReader) ReadPatch(ctx context.Context, assets map[string]string, parcel orb.MultiPolygon, bands []string) (*Patch, error) {
	if len(bands) == 0 {
		return nil, rasterError("No bands requested")
	}
	ref := bands[0]
	for _, b := range bands {
		if b == ReferenceBand {
			ref = b
			break
		}
	}
	href, ok := assets[ref]
	if !ok || href == "" {
		return nil, rasterError("Reference band %s missing in assets", ref)
	}

	ds, closer, err := r.opener.Open(ctx, href)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRaster, err, "failed to open reference band")
	}
	defer closer.Close()

	footprint, err := projectParcel(parcel, ds.EPSG)
	if err != nil {
		return nil, err
	}
	win, err := WindowFromBounds(ds.Transform, footprint.Bound())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRaster, err, "invalid reference transform")
	}
	if win.Empty() {
		return nil, rasterError("Empty raster window for AOI")
	}
	refGrid, err := ds.ReadWindow(1, win, math.NaN())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRaster, err, "failed to read reference band")
	}
	ds.MaskNoData(refGrid)

	patch := &Patch{
		Bands:     map[string]*Grid{ref: refGrid},
		Transform: ds.Transform.Translate(float64(win.ColOff), float64(win.RowOff)),
		EPSG:      ds.EPSG,
	}

	valid := GeometryMask(footprint, patch.Transform, win.Width, win.Height)
	valid.And(refGrid.Finite())
	if valid.Count() == 0 {
		return nil, rasterError("No valid pixels in AOI window")
	}

	for _, band := range bands {
		if band == ref {
			continue
		}
		href, ok := assets[band]
		if !ok || href == "" {
			continue
		}
		g, err := r.readAligned(ctx, href, parcel, patch, win.Width, win.Height, Bilinear, math.NaN())
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeRaster, err, "failed to read band "+band)
		}
		patch.Bands[band] = g
	}

	if href, ok := assets[SCLAsset]; ok && href != "" {
		scl, err := r.readAligned(ctx, href, parcel, patch, win.Width, win.Height, Nearest, 0)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeRaster, err, "failed to read scene classification")
		}
		for i, v := range scl.Data {
			if math.IsNaN(v) {
				continue
			}
			if InvalidSCLClasses[int(math.Round(v))] {
				valid.Data[i] = false
			}
		}
	}

	patch.Valid = valid
	return patch, nil
}

// readAligned samples a band onto the patch grid. Bands in the patch CRS are
// sampled at every patch pixel centre; other CRSs read their own covering
// window and are resized to the patch shape.
func (r *PatchReader) readAligned(ctx context.Context, href string, parcel orb.MultiPolygon, patch *Patch, width, height int, method Resampling, fill float64) (*Grid, error) {
	ds, closer, err := r.opener.Open(ctx, href)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if ds.EPSG != patch.EPSG {
		footprint, err := projectParcel(parcel, ds.EPSG)
		if err != nil {
			return nil, err
		}
		win, err := WindowFromBounds(ds.Transform, footprint.Bound())
		if err != nil {
			return nil, err
		}
		if win.Empty() {
			return NewGridFilled(width, height, fill), nil
		}
		g, err := ds.ReadWindow(1, win, fill)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(fill) {
			ds.MaskNoData(g)
		}
		return Resize(g, width, height, method), nil
	}

	inv, err := ds.Transform.Invert()
	if err != nil {
		return nil, err
	}
	// source window spanning the patch extent, padded for interpolation
	x0, y0 := patch.Transform.Apply(0, 0)
	x1, y1 := patch.Transform.Apply(float64(width), float64(height))
	win, err := WindowFromBounds(ds.Transform, orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	})
	if err != nil {
		return nil, err
	}
	win = Window{ColOff: win.ColOff - 1, RowOff: win.RowOff - 1, Width: win.Width + 2, Height: win.Height + 2}
	src, err := ds.ReadWindow(1, win, fill)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(fill) {
		ds.MaskNoData(src)
	}

	out := NewGridFilled(width, height, fill)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cx, cy := patch.Transform.Apply(float64(x)+0.5, float64(y)+0.5)
			col, row := inv.Apply(cx, cy)
			v := src.Sample(col-float64(win.ColOff), row-float64(win.RowOff), method)
			if !math.IsNaN(v) {
				out.Set(x, y, v)
			}
		}
	}
	return out, nil
}

func projectParcel(parcel orb.MultiPolygon, epsg int) (orb.MultiPolygon, error) {
	proj, err := spatial.ProjectionFor(epsg)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRaster, err, "unsupported raster CRS")
	}
	return spatial.ProjectMultiPolygon(parcel, proj), nil
}
