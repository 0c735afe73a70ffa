package superres

import (
	"os"

	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// writeStack writes bands in order as one multi-band GeoTIFF with a unit
// pixel grid; SR backends only care about the pixel layout.
func writeStack(path string, bands map[string]*raster.Grid, order []string) error {
	grids := make([]*raster.Grid, 0, len(order))
	for _, name := range order {
		g, ok := bands[name]
		if !ok {
			return inferenceError("SR input band %s is missing", name)
		}
		grids = append(grids, g)
	}
	if len(grids) == 0 {
		return inferenceError("No input bands provided for SR stack")
	}
	for _, g := range grids[1:] {
		if !g.SameShape(grids[0]) {
			return inferenceError("All SR input bands must share the same shape")
		}
	}

	data, err := raster.EncodeBytes(grids, raster.FromOrigin(0, 0, 1, 1), 4326, raster.DefaultNoData)
	if err != nil {
		return wrapInference(err, "failed to encode SR input")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrapInference(err, "failed to write SR input")
	}
	return nil
}

// readStack maps the bands of a GeoTIFF onto names by position. Extra bands
// on either side are ignored.
func readStack(data []byte, order []string) (map[string]*raster.Grid, error) {
	ds, err := raster.OpenBytes(data)
	if err != nil {
		return nil, wrapInference(err, "failed to open SR output")
	}
	count := min(ds.Count(), len(order))
	if count == 0 {
		return nil, inferenceError("SR output raster has zero bands")
	}
	out := make(map[string]*raster.Grid, count)
	for i := 0; i < count; i++ {
		g, err := ds.ReadBand(i + 1)
		if err != nil {
			return nil, wrapInference(err, "failed to read SR output")
		}
		ds.MaskNoData(g)
		out[order[i]] = g
	}
	return out, nil
}

func readStackFile(path string, order []string) (map[string]*raster.Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapInference(err, "failed to read SR output")
	}
	return readStack(data, order)
}
