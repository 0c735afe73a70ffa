package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Schedule frequencies
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Schedule controls when a parcel is analysed automatically.
// LocalTime is HH:MM in Timezone; LastRunLocalDate is YYYY-MM-DD in the same zone.
type Schedule struct {
	Enabled          bool   `json:"enabled"`
	Timezone         string `json:"timezone"`
	LocalTime        string `json:"local_time"`
	Frequency        string `json:"frequency"`
	LastRunLocalDate string `json:"last_run_local_date,omitempty"`
}

// DefaultSchedule returns the schedule given to new parcels.
func DefaultSchedule() Schedule {
	return Schedule{
		Enabled:   true,
		Timezone:  "UTC",
		LocalTime: "06:00",
		Frequency: FrequencyDaily,
	}
}

// Parcel is a land parcel owned by an organization.
type Parcel struct {
	ID             int64            `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Name           string           `json:"name"`
	Geometry       orb.MultiPolygon `json:"-"`
	AreaHa         float64          `json:"area_ha"`
	Revision       int              `json:"revision"`
	Schedule       Schedule         `json:"schedule"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ParcelRevision is one entry of a parcel's append-only geometry history.
type ParcelRevision struct {
	ID        int64            `json:"id"`
	ParcelID  int64            `json:"parcel_id"`
	Revision  int              `json:"revision"`
	Geometry  orb.MultiPolygon `json:"-"`
	AreaHa    float64          `json:"area_ha"`
	CreatedAt time.Time        `json:"created_at"`
}
