package models

import "time"

// ObservationStatus constants
const (
	ObservationSucceeded         = "SUCCEEDED"
	ObservationLowQualitySkipped = "LOW_QUALITY_SKIPPED"
	ObservationFailed            = "FAILED"
)

// IndexStats summarises an index raster over its finite pixels.
// Every field is nil when the raster has no finite pixel.
type IndexStats struct {
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
	Mean *float64 `json:"mean"`
	P10  *float64 `json:"p10"`
	P90  *float64 `json:"p90"`
}

// IndexSummary wraps the stats of one index.
type IndexSummary struct {
	Stats IndexStats `json:"stats"`
}

// IndexSet maps index name to its summary.
type IndexSet map[string]IndexSummary

// Mean returns the mean of the named index when present.
func (s IndexSet) Mean(name string) (float64, bool) {
	summary, ok := s[name]
	if !ok || summary.Stats.Mean == nil {
		return 0, false
	}
	return *summary.Stats.Mean, true
}

// Names returns the index names in the set.
func (s IndexSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// Observation is the single outcome record of a pipeline run.
type Observation struct {
	ID               int64     `json:"id"`
	ParcelID         int64     `json:"parcel_id"`
	JobID            *int64    `json:"job_id,omitempty"`
	SceneCandidateID *int64    `json:"scene_candidate_id,omitempty"`
	ObservedOn       time.Time `json:"observed_on"`
	Status           string    `json:"status"`
	CloudCover       *float64  `json:"cloud_cover"`
	ValidPixelRatio  float64   `json:"valid_pixel_ratio"`
	IndicesNative    IndexSet  `json:"indices_native"`
	IndicesSR        IndexSet  `json:"indices_sr"`
	SRModelProfileID *int64    `json:"sr_model_profile_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SRModelProfile identifies a super-resolution backend, unique by (Name, Version).
type SRModelProfile struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	SupportedBands []string  `json:"supported_bands"`
	ScaleFactor    float64   `json:"scale_factor"`
	RuntimeClass   string    `json:"runtime_class"`
	CreatedAt      time.Time `json:"created_at"`
}
