package models

import "time"

// ExportFormat constants
const (
	ExportCSV     = "CSV"
	ExportPNG     = "PNG"
	ExportGeoTIFF = "GEOTIFF"
)

// Export source modes
const (
	SourceNative = "native"
	SourceSR     = "sr"
)

// ExportParams select which layer an export renders.
type ExportParams struct {
	LayerID    *int64 `json:"layer_id,omitempty"`
	IndexName  string `json:"index_name,omitempty"`
	SourceMode string `json:"source_mode,omitempty"`
}

// ExportJob produces a downloadable artifact for a parcel.
type ExportJob struct {
	ID           int64        `json:"id"`
	ParcelID     int64        `json:"parcel_id"`
	Format       string       `json:"format"`
	Status       JobStatus    `json:"status"`
	Params       ExportParams `json:"params"`
	OutputURI    string       `json:"output_uri,omitempty"`
	Result       JobResult    `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
