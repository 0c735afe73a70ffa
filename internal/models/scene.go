package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Catalog collections
const (
	CollectionSentinel2 = "sentinel-2-l2a"
	CollectionSentinel1 = "sentinel-1-rtc"
)

// Scene is a catalog search result. It is transient until selected.
type Scene struct {
	SceneID    string            `json:"scene_id"`
	Collection string            `json:"collection"`
	AcquiredAt time.Time         `json:"acquired_at"`
	CloudCover *float64          `json:"cloud_cover"`
	Assets     map[string]string `json:"assets"`
	BBox       []float64         `json:"bbox,omitempty"`
	// Footprint is nil when the item carried no geometry.
	Footprint  orb.Geometry `json:"-"`
	PreviewURL string       `json:"preview_url,omitempty"`
}

// IsOptical reports whether cloud filtering applies to the collection.
func IsOptical(collection string) bool {
	return collection != CollectionSentinel1
}

// SceneCandidate is the durable record of a selected scene.
type SceneCandidate struct {
	ID              int64             `json:"id"`
	ParcelID        int64             `json:"parcel_id"`
	Provider        string            `json:"provider"`
	Collection      string            `json:"collection"`
	SceneID         string            `json:"scene_id"`
	AcquiredAt      time.Time         `json:"acquired_at"`
	CloudCover      *float64          `json:"cloud_cover"`
	CoverageRatio   float64           `json:"coverage_ratio"`
	ValidPixelRatio *float64          `json:"valid_pixel_ratio"`
	Assets          map[string]string `json:"assets"`
	CreatedAt       time.Time         `json:"created_at"`
}
