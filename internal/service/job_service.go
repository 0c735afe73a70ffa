package service

import (
	"context"
	"strings"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/analysis"
	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
)

// JobService queues and inspects analysis and export jobs
type JobService struct {
	parcels    *ParcelService
	jobs       *repository.AnalysisJobRepository
	exports    *repository.ExportJobRepository
	dispatcher *Dispatcher
}

// NewJobService creates a new job service
func NewJobService(parcels *ParcelService, jobs *repository.AnalysisJobRepository, exports *repository.ExportJobRepository, dispatcher *Dispatcher) *JobService {
	return &JobService{parcels: parcels, jobs: jobs, exports: exports, dispatcher: dispatcher}
}

// CreateAnalysis queues an analysis run for a parcel and hands it to the
// worker pool.
func (s *JobService) CreateAnalysis(ctx context.Context, organizationID string, parcelID int64, params models.AnalysisParams) (*models.AnalysisJob, error) {
	if _, err := s.parcels.Get(ctx, organizationID, parcelID); err != nil {
		return nil, err
	}
	if err := validateAnalysisParams(params); err != nil {
		return nil, err
	}
	job := &models.AnalysisJob{ParcelID: parcelID, Params: params}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if s.dispatcher != nil {
		s.dispatcher.Submit(analysis.KindAnalysis, job.ID)
	}
	return job, nil
}

func validateAnalysisParams(p models.AnalysisParams) error {
	var from, to time.Time
	var err error
	if p.DateFrom != "" {
		if from, err = time.Parse("2006-01-02", p.DateFrom); err != nil {
			return apperr.Newf(apperr.CodeInvalidConfig, "date_from must be YYYY-MM-DD, got %q", p.DateFrom)
		}
	}
	if p.DateTo != "" {
		if to, err = time.Parse("2006-01-02", p.DateTo); err != nil {
			return apperr.Newf(apperr.CodeInvalidConfig, "date_to must be YYYY-MM-DD, got %q", p.DateTo)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return apperr.New(apperr.CodeInvalidConfig, "date_to is before date_from")
	}
	if p.MaxCloud != nil && (*p.MaxCloud < 0 || *p.MaxCloud > 100) {
		return apperr.New(apperr.CodeInvalidConfig, "max_cloud must be within 0..100")
	}
	return nil
}

// GetAnalysis returns an analysis job of one of the organization's parcels
func (s *JobService) GetAnalysis(ctx context.Context, organizationID string, id int64) (*models.AnalysisJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.parcels.Get(ctx, organizationID, job.ParcelID); err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "analysis job not found: %d", id)
	}
	return job, nil
}

// ListAnalyses returns the newest jobs of a parcel
func (s *JobService) ListAnalyses(ctx context.Context, organizationID string, parcelID int64, limit int) ([]*models.AnalysisJob, error) {
	if _, err := s.parcels.Get(ctx, organizationID, parcelID); err != nil {
		return nil, err
	}
	return s.jobs.ListByParcel(ctx, parcelID, limit)
}

// CreateExport queues an export of a parcel
func (s *JobService) CreateExport(ctx context.Context, organizationID string, parcelID int64, format string, params models.ExportParams) (*models.ExportJob, error) {
	if _, err := s.parcels.Get(ctx, organizationID, parcelID); err != nil {
		return nil, err
	}
	format = strings.ToUpper(strings.TrimSpace(format))
	switch format {
	case models.ExportCSV, models.ExportPNG, models.ExportGeoTIFF:
	default:
		return nil, apperr.Newf(apperr.CodeInvalidConfig, "format must be CSV, PNG or GEOTIFF, got %q", format)
	}
	switch strings.ToLower(params.SourceMode) {
	case "", models.SourceNative, models.SourceSR:
	default:
		return nil, apperr.Newf(apperr.CodeInvalidConfig, "source_mode must be native or sr, got %q", params.SourceMode)
	}

	job := &models.ExportJob{ParcelID: parcelID, Format: format, Params: params}
	if err := s.exports.Create(ctx, job); err != nil {
		return nil, err
	}
	if s.dispatcher != nil {
		s.dispatcher.Submit(analysis.KindExport, job.ID)
	}
	return job, nil
}

// GetExport returns an export job of one of the organization's parcels
func (s *JobService) GetExport(ctx context.Context, organizationID string, id int64) (*models.ExportJob, error) {
	job, err := s.exports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.parcels.Get(ctx, organizationID, job.ParcelID); err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "export job not found: %d", id)
	}
	return job, nil
}
