package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

const exportJobColumns = `id, parcel_id, format, status, params_json, output_uri, result_json,
	error_message, created_at, started_at, completed_at, updated_at`

// ExportJobRepository handles database operations for export jobs
type ExportJobRepository struct {
	db *sql.DB
}

// NewExportJobRepository creates a new export job repository
func NewExportJobRepository(db *sql.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a QUEUED export job.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	params, err := encodeJSON(job.Params)
	if err != nil {
		return err
	}
	job.Status = models.JobQueued
	stamp(&job.CreatedAt)
	job.UpdatedAt = job.CreatedAt

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (parcel_id, format, status, params_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ParcelID, job.Format, job.Status, params, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	if job.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func scanExportJob(s rowScanner) (*models.ExportJob, error) {
	job := &models.ExportJob{}
	var params, output, result, errMsg sql.NullString
	var started, completed sql.NullTime
	err := s.Scan(
		&job.ID,
		&job.ParcelID,
		&job.Format,
		&job.Status,
		&params,
		&output,
		&result,
		&errMsg,
		&job.CreatedAt,
		&started,
		&completed,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &job.Params); err != nil {
		return nil, err
	}
	if err := decodeJSON(result, &job.Result); err != nil {
		return nil, err
	}
	job.OutputURI = output.String
	job.ErrorMessage = errMsg.String
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return job, nil
}

// GetByID retrieves an export job by ID
func (r *ExportJobRepository) GetByID(ctx context.Context, id int64) (*models.ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE id = ?`, id)
	job, err := scanExportJob(row)
	if err == sql.ErrNoRows {
		return nil, notFound("export job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return job, nil
}

// ListQueued returns queued export jobs oldest first.
func (r *ExportJobRepository) ListQueued(ctx context.Context) ([]*models.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+exportJobColumns+` FROM export_jobs
		WHERE status = ? ORDER BY created_at, id`, models.JobQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a QUEUED export to RUNNING; false when already claimed.
func (r *ExportJobRepository) MarkRunning(ctx context.Context, id int64) (bool, error) {
	return markRunning(ctx, r.db, "export_jobs", id)
}

// Complete stores the terminal status, output location and result.
func (r *ExportJobRepository) Complete(ctx context.Context, id int64, status models.JobStatus, outputURI string, result models.JobResult, errMsg string) error {
	return complete(ctx, r.db, "export_jobs", id, status, result, errMsg, outputURI)
}

// FailStale marks RUNNING exports started before cutoff as FAILED.
func (r *ExportJobRepository) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	return failStale(ctx, r.db, "export_jobs", cutoff, message)
}
