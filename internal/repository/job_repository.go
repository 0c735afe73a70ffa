package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

const analysisJobColumns = `id, parcel_id, status, params_json, result_json, error_message,
	created_at, started_at, completed_at, updated_at`

// AnalysisJobRepository handles database operations for analysis jobs
type AnalysisJobRepository struct {
	db *sql.DB
}

// NewAnalysisJobRepository creates a new analysis job repository
func NewAnalysisJobRepository(db *sql.DB) *AnalysisJobRepository {
	return &AnalysisJobRepository{db: db}
}

// Create inserts a QUEUED job.
func (r *AnalysisJobRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	params, err := encodeJSON(job.Params)
	if err != nil {
		return err
	}
	job.Status = models.JobQueued
	stamp(&job.CreatedAt)
	job.UpdatedAt = job.CreatedAt

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (parcel_id, status, params_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ParcelID, job.Status, params, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis job: %w", err)
	}
	if job.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func scanAnalysisJob(s rowScanner) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{}
	var params, result, errMsg sql.NullString
	var started, completed sql.NullTime
	err := s.Scan(
		&job.ID,
		&job.ParcelID,
		&job.Status,
		&params,
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
	job.ErrorMessage = errMsg.String
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return job, nil
}

// GetByID retrieves an analysis job by ID
func (r *AnalysisJobRepository) GetByID(ctx context.Context, id int64) (*models.AnalysisJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE id = ?`, id)
	job, err := scanAnalysisJob(row)
	if err == sql.ErrNoRows {
		return nil, notFound("analysis job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

// ListByParcel returns the newest jobs of a parcel first.
func (r *AnalysisJobRepository) ListByParcel(ctx context.Context, parcelID int64, limit int) ([]*models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `SELECT `+analysisJobColumns+` FROM analysis_jobs
		WHERE parcel_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, parcelID, limit)
}

// ListQueued returns queued jobs oldest first.
func (r *AnalysisJobRepository) ListQueued(ctx context.Context) ([]*models.AnalysisJob, error) {
	return r.query(ctx, `SELECT `+analysisJobColumns+` FROM analysis_jobs
		WHERE status = ? ORDER BY created_at, id`, models.JobQueued)
}

// Latest returns the most recent job of a parcel, or nil when it has none.
func (r *AnalysisJobRepository) Latest(ctx context.Context, parcelID int64) (*models.AnalysisJob, error) {
	jobs, err := r.ListByParcel(ctx, parcelID, 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (r *AnalysisJobRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AnalysisJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanAnalysisJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a QUEUED job to RUNNING. It reports false when the job
// was not queued, so a job is only ever claimed once.
func (r *AnalysisJobRepository) MarkRunning(ctx context.Context, id int64) (bool, error) {
	return markRunning(ctx, r.db, "analysis_jobs", id)
}

// Complete stores the terminal status, result and error message.
func (r *AnalysisJobRepository) Complete(ctx context.Context, id int64, status models.JobStatus, result models.JobResult, errMsg string) error {
	return complete(ctx, r.db, "analysis_jobs", id, status, result, errMsg, "")
}

// FailStale marks RUNNING jobs started before cutoff as FAILED.
func (r *AnalysisJobRepository) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	return failStale(ctx, r.db, "analysis_jobs", cutoff, message)
}

func markRunning(ctx context.Context, db *sql.DB, table string, id int64) (bool, error) {
	ts := now()
	result, err := db.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobRunning, ts, ts, id, models.JobQueued,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

func complete(ctx context.Context, db *sql.DB, table string, id int64, status models.JobStatus, result models.JobResult, errMsg, outputURI string) error {
	var resultJSON sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	ts := now()
	query := `UPDATE ` + table + ` SET status = ?, result_json = ?, error_message = ?, completed_at = ?, updated_at = ?`
	args := []interface{}{status, resultJSON, nullString(errMsg), ts, ts}
	if outputURI != "" {
		query += `, output_uri = ?`
		args = append(args, outputURI)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireAffected(res, "job", id)
}

func failStale(ctx context.Context, db *sql.DB, table string, cutoff time.Time, message string) (int64, error) {
	ts := now()
	result, err := db.ExecContext(ctx, `
		UPDATE `+table+` SET status = ?, error_message = ?, result_json = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?`,
		models.JobFailed, message, `{"reason":"`+models.ReasonAbandoned+`"}`, ts, ts,
		models.JobRunning, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile stale jobs: %w", err)
	}
	return result.RowsAffected()
}
