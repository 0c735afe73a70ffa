package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// SceneRepository handles database operations for selected scene candidates
type SceneRepository struct {
	db *sql.DB
}

// NewSceneRepository creates a new scene repository
func NewSceneRepository(db *sql.DB) *SceneRepository {
	return &SceneRepository{db: db}
}

// Create records a selected scene.
func (r *SceneRepository) Create(ctx context.Context, c *models.SceneCandidate) error {
	assets, err := encodeJSON(c.Assets)
	if err != nil {
		return err
	}
	stamp(&c.CreatedAt)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO scene_candidates (
			parcel_id, provider, collection, scene_id, acquired_at, cloud_cover,
			coverage_ratio, valid_pixel_ratio, assets_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ParcelID, c.Provider, c.Collection, c.SceneID, c.AcquiredAt.UTC(), nullFloat(c.CloudCover),
		c.CoverageRatio, nullFloat(c.ValidPixelRatio), assets, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scene candidate: %w", err)
	}
	if c.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// SetValidPixelRatio stores the ratio measured after the patch read.
func (r *SceneRepository) SetValidPixelRatio(ctx context.Context, id int64, ratio float64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE scene_candidates SET valid_pixel_ratio = ? WHERE id = ?`, ratio, id)
	if err != nil {
		return fmt.Errorf("failed to update scene candidate: %w", err)
	}
	return requireAffected(result, "scene candidate", id)
}

// GetByID retrieves a scene candidate by ID
func (r *SceneRepository) GetByID(ctx context.Context, id int64) (*models.SceneCandidate, error) {
	c := &models.SceneCandidate{}
	var cloud, valid sql.NullFloat64
	var assets sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, parcel_id, provider, collection, scene_id, acquired_at, cloud_cover,
			coverage_ratio, valid_pixel_ratio, assets_json, created_at
		FROM scene_candidates WHERE id = ?`, id).Scan(
		&c.ID, &c.ParcelID, &c.Provider, &c.Collection, &c.SceneID, &c.AcquiredAt, &cloud,
		&c.CoverageRatio, &valid, &assets, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, notFound("scene candidate", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene candidate: %w", err)
	}
	c.CloudCover = floatPtr(cloud)
	c.ValidPixelRatio = floatPtr(valid)
	if err := decodeJSON(assets, &c.Assets); err != nil {
		return nil, err
	}
	return c, nil
}

const observationColumns = `id, parcel_id, job_id, scene_candidate_id, observed_on, status, cloud_cover,
	valid_pixel_ratio, indices_native, indices_sr, sr_model_profile_id, created_at`

// ObservationRepository handles database operations for observations
type ObservationRepository struct {
	db *sql.DB
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *sql.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Create inserts an observation. Observations are never updated.
func (r *ObservationRepository) Create(ctx context.Context, o *models.Observation) error {
	native, err := encodeJSON(o.IndicesNative)
	if err != nil {
		return err
	}
	sr, err := encodeJSON(o.IndicesSR)
	if err != nil {
		return err
	}
	stamp(&o.CreatedAt)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO observations (
			parcel_id, job_id, scene_candidate_id, observed_on, status, cloud_cover,
			valid_pixel_ratio, indices_native, indices_sr, sr_model_profile_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ParcelID, nullInt(o.JobID), nullInt(o.SceneCandidateID), o.ObservedOn.Format(dateLayout),
		o.Status, nullFloat(o.CloudCover), o.ValidPixelRatio, native, sr, nullInt(o.SRModelProfileID), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create observation: %w", err)
	}
	if o.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func scanObservation(s rowScanner) (*models.Observation, error) {
	o := &models.Observation{}
	var jobID, sceneID, profileID sql.NullInt64
	var observedOn string
	var cloud sql.NullFloat64
	var native, sr sql.NullString
	err := s.Scan(
		&o.ID,
		&o.ParcelID,
		&jobID,
		&sceneID,
		&observedOn,
		&o.Status,
		&cloud,
		&o.ValidPixelRatio,
		&native,
		&sr,
		&profileID,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.ObservedOn, err = time.Parse(dateLayout, observedOn); err != nil {
		return nil, fmt.Errorf("observation %d has invalid date %q: %w", o.ID, observedOn, err)
	}
	o.JobID = intPtr(jobID)
	o.SceneCandidateID = intPtr(sceneID)
	o.SRModelProfileID = intPtr(profileID)
	o.CloudCover = floatPtr(cloud)
	if err := decodeJSON(native, &o.IndicesNative); err != nil {
		return nil, err
	}
	if err := decodeJSON(sr, &o.IndicesSR); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByID retrieves an observation by ID
func (r *ObservationRepository) GetByID(ctx context.Context, id int64) (*models.Observation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, notFound("observation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	return o, nil
}

// ListByParcel returns the observation time series of a parcel, oldest first.
func (r *ObservationRepository) ListByParcel(ctx context.Context, parcelID int64) ([]*models.Observation, error) {
	return r.query(ctx, `SELECT `+observationColumns+` FROM observations
		WHERE parcel_id = ? ORDER BY observed_on, id`, parcelID)
}

// Recent returns up to limit observations of a parcel other than excludeID,
// newest observed date first.
func (r *ObservationRepository) Recent(ctx context.Context, parcelID, excludeID int64, limit int) ([]*models.Observation, error) {
	return r.query(ctx, `SELECT `+observationColumns+` FROM observations
		WHERE parcel_id = ? AND id <> ? ORDER BY observed_on DESC, id DESC LIMIT ?`,
		parcelID, excludeID, limit)
}

func (r *ObservationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Observation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var observations []*models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// SRProfileRepository handles database operations for SR model profiles
type SRProfileRepository struct {
	db *sql.DB
}

// NewSRProfileRepository creates a new SR profile repository
func NewSRProfileRepository(db *sql.DB) *SRProfileRepository {
	return &SRProfileRepository{db: db}
}

// Ensure returns the stored profile for (Name, Version), creating it from p
// when absent. An existing row is returned unchanged.
func (r *SRProfileRepository) Ensure(ctx context.Context, p models.SRModelProfile) (*models.SRModelProfile, error) {
	if p.SupportedBands == nil {
		p.SupportedBands = []string{}
	}
	bands, err := encodeJSON(p.SupportedBands)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sr_model_profiles (name, version, supported_bands, scale_factor, runtime_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, version) DO NOTHING`,
		p.Name, p.Version, bands, p.ScaleFactor, p.RuntimeClass, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register SR profile: %w", err)
	}

	out := &models.SRModelProfile{}
	var stored sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT id, name, version, supported_bands, scale_factor, runtime_class, created_at
		FROM sr_model_profiles WHERE name = ? AND version = ?`, p.Name, p.Version).Scan(
		&out.ID, &out.Name, &out.Version, &stored, &out.ScaleFactor, &out.RuntimeClass, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get SR profile: %w", err)
	}
	if err := decodeJSON(stored, &out.SupportedBands); err != nil {
		return nil, err
	}
	return out, nil
}
