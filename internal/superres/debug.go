package superres

import (
	"context"

	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// Debug upsamples by block repetition. It never fails and makes no
// external calls.
type Debug struct {
	caps Capabilities
}

// NewDebug returns the 2x debug backend.
func NewDebug() *Debug {
	return &Debug{caps: Capabilities{
		ModelName:      "nearest-neighbor-debug",
		Version:        "1.0",
		SupportedBands: []string{"B02", "B03", "B04", "B08"},
		ScaleFactor:    2,
		RuntimeClass:   RuntimeCPU,
	}}
}

func (d *Debug) Capabilities() Capabilities {
	return d.caps
}

func (d *Debug) Generate(_ context.Context, req Request) (map[string]*raster.Grid, error) {
	out := make(map[string]*raster.Grid)
	for _, name := range d.caps.SupportedBands {
		g, ok := req.NativeBands[name]
		if !ok {
			continue
		}
		up, err := raster.BlockRepeat(g, d.caps.ScaleFactor)
		if err != nil {
			return nil, wrapInference(err, "debug upsample failed")
		}
		out[name] = up
	}
	return out, nil
}
