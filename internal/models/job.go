package models

import "time"

// JobStatus is the lifecycle state shared by analysis and export jobs.
type JobStatus string

// JobStatus constants
const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobSkipped   JobStatus = "SKIPPED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobSkipped || s == JobFailed
}

// Reason codes written into job results
const (
	ReasonRequestedSceneNotFound = "REQUESTED_SCENE_NOT_FOUND"
	ReasonNoSceneMeetsCoverage   = "NO_SCENE_MEETS_COVERAGE"
	ReasonNoSceneAvailable       = "No scene available"
	ReasonLowSceneCoverage       = "LOW_SCENE_COVERAGE"
	ReasonLowQualitySkipped      = "LOW_QUALITY_SKIPPED"
	ReasonAbandoned              = "ABANDONED"
)

// AnalysisParams are the user supplied inputs of an analysis run.
// Dates are YYYY-MM-DD; empty means the last 30 days.
type AnalysisParams struct {
	DateFrom            string   `json:"date_from,omitempty"`
	DateTo              string   `json:"date_to,omitempty"`
	MaxCloud            *float64 `json:"max_cloud,omitempty"`
	IncludeSR           bool     `json:"include_sr"`
	IncludeRadarOverlay *bool    `json:"include_radar_overlay,omitempty"`
	SceneID             string   `json:"scene_id,omitempty"`
}

// RadarOverlay defaults to true when unset.
func (p AnalysisParams) RadarOverlay() bool {
	return p.IncludeRadarOverlay == nil || *p.IncludeRadarOverlay
}

// JobResult is the JSON summary stored verbatim on a job.
type JobResult map[string]interface{}

// AnalysisJob is one queued or executed pipeline run for a parcel.
type AnalysisJob struct {
	ID           int64          `json:"id"`
	ParcelID     int64          `json:"parcel_id"`
	Status       JobStatus      `json:"status"`
	Params       AnalysisParams `json:"params"`
	Result       JobResult      `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
