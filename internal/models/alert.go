package models

import "time"

// Severity constants
const (
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityCritical = "CRITICAL"
)

// Alert categories raised by the pipeline
const (
	AlertLowSceneCoverage  = "LOW_SCENE_COVERAGE"
	AlertLowQualitySkipped = "LOW_QUALITY_SKIPPED"
	AlertSRInferenceFailed = "SR_INFERENCE_FAILED"
	AlertNDVIDrop          = "NDVI_DROP"
)

// Alert is an append-only notification; only the acknowledgement fields change.
type Alert struct {
	ID             int64                  `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	ParcelID       *int64                 `json:"parcel_id,omitempty"`
	Severity       string                 `json:"severity"`
	Category       string                 `json:"category"`
	Message        string                 `json:"message"`
	Metadata       map[string]interface{} `json:"metadata"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// FlagSRAnalytics gates SR index recomputation per organization.
const FlagSRAnalytics = "sr_analytics_enabled"

// FeatureFlag is an explicit per-organization override.
type FeatureFlag struct {
	ID             int64     `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Key            string    `json:"key"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}
