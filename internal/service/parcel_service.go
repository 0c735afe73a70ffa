package service

import (
	"context"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
)

// ParcelService handles parcel business logic
type ParcelService struct {
	repo      *repository.ParcelRepository
	maxAreaHa float64
}

// NewParcelService creates a new parcel service
func NewParcelService(repo *repository.ParcelRepository, maxAreaHa float64) *ParcelService {
	return &ParcelService{repo: repo, maxAreaHa: maxAreaHa}
}

// CreateParcelInput is the payload of Create
type CreateParcelInput struct {
	Name     string
	Geometry []byte
	Schedule *models.Schedule
}

// Create normalizes the uploaded GeoJSON, enforces the area ceiling and
// stores the parcel with its first revision.
func (s *ParcelService) Create(ctx context.Context, organizationID string, in CreateParcelInput) (*models.Parcel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidGeometry, "parcel name is required")
	}
	mp, areaHa, err := s.prepare(in.Geometry)
	if err != nil {
		return nil, err
	}

	p := &models.Parcel{
		OrganizationID: organizationID,
		Name:           name,
		Geometry:       mp,
		AreaHa:         areaHa,
	}
	if in.Schedule != nil {
		sch, err := ValidateSchedule(*in.Schedule)
		if err != nil {
			return nil, err
		}
		p.Schedule = sch
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ParcelService) prepare(raw []byte) (orb.MultiPolygon, float64, error) {
	geom, err := spatial.Normalize(raw)
	if err != nil {
		return nil, 0, err
	}
	areaHa := spatial.AreaHectares(geom)
	if err := spatial.EnforceLimit(areaHa, s.maxAreaHa); err != nil {
		return nil, 0, err
	}
	return geom, areaHa, nil
}

// Get returns a parcel owned by the organization
func (s *ParcelService) Get(ctx context.Context, organizationID string, id int64) (*models.Parcel, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OrganizationID != organizationID {
		return nil, apperr.Newf(apperr.CodeNotFound, "parcel not found: %d", id)
	}
	return p, nil
}

// List returns the organization's parcels
func (s *ParcelService) List(ctx context.Context, organizationID string) ([]*models.Parcel, error) {
	return s.repo.List(ctx, organizationID)
}

// UpdateGeometry replaces the boundary and appends a revision
func (s *ParcelService) UpdateGeometry(ctx context.Context, organizationID string, id int64, raw []byte) (*models.Parcel, error) {
	if _, err := s.Get(ctx, organizationID, id); err != nil {
		return nil, err
	}
	mp, areaHa, err := s.prepare(raw)
	if err != nil {
		return nil, err
	}
	return s.repo.UpdateGeometry(ctx, id, mp, areaHa)
}

// Revisions returns the boundary history, oldest first
func (s *ParcelService) Revisions(ctx context.Context, organizationID string, id int64) ([]*models.ParcelRevision, error) {
	if _, err := s.Get(ctx, organizationID, id); err != nil {
		return nil, err
	}
	return s.repo.Revisions(ctx, id)
}

// UpdateSchedule validates and stores a schedule. The last run date is kept.
func (s *ParcelService) UpdateSchedule(ctx context.Context, organizationID string, id int64, sch models.Schedule) (*models.Parcel, error) {
	p, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	sch, err = ValidateSchedule(sch)
	if err != nil {
		return nil, err
	}
	sch.LastRunLocalDate = p.Schedule.LastRunLocalDate
	if err := s.repo.UpdateSchedule(ctx, id, sch); err != nil {
		return nil, err
	}
	p.Schedule = sch
	return p, nil
}

// ValidateSchedule fills defaults and rejects unknown zones, times and
// frequencies.
func ValidateSchedule(sch models.Schedule) (models.Schedule, error) {
	def := models.DefaultSchedule()
	if sch.Timezone == "" {
		sch.Timezone = def.Timezone
	}
	if _, err := time.LoadLocation(sch.Timezone); err != nil {
		return sch, apperr.Newf(apperr.CodeInvalidConfig, "unknown timezone %q", sch.Timezone)
	}
	if sch.LocalTime == "" {
		sch.LocalTime = def.LocalTime
	}
	if _, _, ok := parseClock(sch.LocalTime); !ok {
		return sch, apperr.Newf(apperr.CodeInvalidConfig, "local_time must be HH:MM, got %q", sch.LocalTime)
	}
	sch.Frequency = strings.ToLower(sch.Frequency)
	switch sch.Frequency {
	case "":
		sch.Frequency = def.Frequency
	case models.FrequencyDaily, models.FrequencyWeekly:
	default:
		return sch, apperr.Newf(apperr.CodeInvalidConfig, "frequency must be daily or weekly, got %q", sch.Frequency)
	}
	return sch, nil
}
