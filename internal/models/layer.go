package models

import "time"

// LayerType constants
const (
	LayerNativeIndex = "NATIVE_INDEX"
	LayerSRIndex     = "SR_INDEX"
	LayerRGB         = "RGB"
	LayerRadar       = "RADAR"
)

// TileRescale is the value range every index layer is rendered with.
const TileRescale = "-1,1"

// IndexColormaps is the fixed index to colormap table used by the tile renderer.
var IndexColormaps = map[string]string{
	"NDVI": "ylgn",
	"NDMI": "ylgnbu",
	"NDWI": "gnbu",
	"EVI":  "ylgn",
	"NDRE": "ylorbr",
	"SAVI": "ylgn",
}

// TileStyle returns the colormap and rescale range for an index layer.
func TileStyle(indexName string) (colormap, rescale string, ok bool) {
	colormap, ok = IndexColormaps[indexName]
	if !ok {
		return "", "", false
	}
	return colormap, TileRescale, true
}

// LayerAsset is a persisted raster artifact derived from one run.
type LayerAsset struct {
	ID             int64                  `json:"id"`
	ParcelID       int64                  `json:"parcel_id"`
	ObservationID  *int64                 `json:"observation_id,omitempty"`
	LayerType      string                 `json:"layer_type"`
	IndexName      string                 `json:"index_name,omitempty"`
	SourceURI      string                 `json:"source_uri"`
	TileJSONURL    string                 `json:"tilejson_url,omitempty"`
	IsModelDerived bool                   `json:"is_model_derived"`
	Metadata       map[string]interface{} `json:"metadata"`
	CreatedAt      time.Time              `json:"created_at"`
}
