package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/database"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
)

const parcelColumns = `id, organization_id, name, geometry_geojson, area_ha, revision,
	schedule_enabled, schedule_timezone, schedule_local_time, schedule_frequency,
	schedule_last_run_local_date, created_at, updated_at`

// ParcelRepository handles database operations for parcels and their revisions
type ParcelRepository struct {
	db *sql.DB
}

// NewParcelRepository creates a new parcel repository
func NewParcelRepository(db *sql.DB) *ParcelRepository {
	return &ParcelRepository{db: db}
}

// Create inserts the parcel together with its first revision.
func (r *ParcelRepository) Create(ctx context.Context, p *models.Parcel) error {
	geom, err := spatial.MarshalGeoJSON(p.Geometry)
	if err != nil {
		return err
	}
	if p.Schedule.Timezone == "" {
		p.Schedule = models.DefaultSchedule()
	}
	stamp(&p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	p.Revision = 1

	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO parcels (
				organization_id, name, geometry_geojson, area_ha, revision,
				schedule_enabled, schedule_timezone, schedule_local_time, schedule_frequency,
				schedule_last_run_local_date, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.OrganizationID, p.Name, string(geom), p.AreaHa, p.Revision,
			boolInt(p.Schedule.Enabled), p.Schedule.Timezone, p.Schedule.LocalTime, p.Schedule.Frequency,
			nullString(p.Schedule.LastRunLocalDate), p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create parcel: %w", err)
		}
		if p.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		return insertRevision(ctx, tx, p.ID, p.Revision, string(geom), p.AreaHa)
	})
}

func insertRevision(ctx context.Context, tx *sql.Tx, parcelID int64, revision int, geom string, areaHa float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO parcel_revisions (parcel_id, revision, geometry_geojson, area_ha, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		parcelID, revision, geom, areaHa, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append parcel revision: %w", err)
	}
	return nil
}

func scanParcel(s rowScanner) (*models.Parcel, error) {
	p := &models.Parcel{}
	var geom string
	var enabled int
	var lastRun sql.NullString
	err := s.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&geom,
		&p.AreaHa,
		&p.Revision,
		&enabled,
		&p.Schedule.Timezone,
		&p.Schedule.LocalTime,
		&p.Schedule.Frequency,
		&lastRun,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Schedule.Enabled = enabled != 0
	p.Schedule.LastRunLocalDate = lastRun.String
	if p.Geometry, err = spatial.UnmarshalMultiPolygon([]byte(geom)); err != nil {
		return nil, fmt.Errorf("parcel %d: %w", p.ID, err)
	}
	return p, nil
}

// GetByID retrieves a parcel by ID
func (r *ParcelRepository) GetByID(ctx context.Context, id int64) (*models.Parcel, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE id = ?`, id)
	p, err := scanParcel(row)
	if err == sql.ErrNoRows {
		return nil, notFound("parcel", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parcel: %w", err)
	}
	return p, nil
}

// List retrieves the parcels of an organization ordered by id.
func (r *ParcelRepository) List(ctx context.Context, organizationID string) ([]*models.Parcel, error) {
	return r.query(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE organization_id = ? ORDER BY id`, organizationID)
}

// ListScheduled retrieves every parcel with scheduling enabled.
func (r *ParcelRepository) ListScheduled(ctx context.Context) ([]*models.Parcel, error) {
	return r.query(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE schedule_enabled = 1 ORDER BY id`)
}

func (r *ParcelRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Parcel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list parcels: %w", err)
	}
	defer rows.Close()

	var parcels []*models.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parcel: %w", err)
		}
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// UpdateGeometry replaces the current boundary, bumps the revision and
// appends the new revision row in one transaction.
func (r *ParcelRepository) UpdateGeometry(ctx context.Context, id int64, mp orb.MultiPolygon, areaHa float64) (*models.Parcel, error) {
	geom, err := spatial.MarshalGeoJSON(mp)
	if err != nil {
		return nil, err
	}

	err = database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		var revision int
		err := tx.QueryRowContext(ctx, `SELECT revision FROM parcels WHERE id = ?`, id).Scan(&revision)
		if err == sql.ErrNoRows {
			return notFound("parcel", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read parcel revision: %w", err)
		}
		revision++

		_, err = tx.ExecContext(ctx, `
			UPDATE parcels SET geometry_geojson = ?, area_ha = ?, revision = ?, updated_at = ?
			WHERE id = ?`,
			string(geom), areaHa, revision, now(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update parcel geometry: %w", err)
		}
		return insertRevision(ctx, tx, id, revision, string(geom), areaHa)
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateSchedule replaces the schedule columns, keeping the last run date.
func (r *ParcelRepository) UpdateSchedule(ctx context.Context, id int64, s models.Schedule) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE parcels SET schedule_enabled = ?, schedule_timezone = ?, schedule_local_time = ?,
			schedule_frequency = ?, updated_at = ?
		WHERE id = ?`,
		boolInt(s.Enabled), s.Timezone, s.LocalTime, s.Frequency, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update parcel schedule: %w", err)
	}
	return requireAffected(result, "parcel", id)
}

// SetLastRunLocalDate records the local date of the latest scheduled run.
func (r *ParcelRepository) SetLastRunLocalDate(ctx context.Context, id int64, date string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE parcels SET schedule_last_run_local_date = ?, updated_at = ? WHERE id = ?`,
		date, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update parcel schedule: %w", err)
	}
	return requireAffected(result, "parcel", id)
}

// Revisions returns the geometry history of a parcel, oldest first.
func (r *ParcelRepository) Revisions(ctx context.Context, parcelID int64) ([]*models.ParcelRevision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parcel_id, revision, geometry_geojson, area_ha, created_at
		FROM parcel_revisions WHERE parcel_id = ? ORDER BY revision`, parcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parcel revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*models.ParcelRevision
	for rows.Next() {
		rev := &models.ParcelRevision{}
		var geom string
		if err := rows.Scan(&rev.ID, &rev.ParcelID, &rev.Revision, &geom, &rev.AreaHa, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan parcel revision: %w", err)
		}
		if rev.Geometry, err = spatial.UnmarshalMultiPolygon([]byte(geom)); err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func requireAffected(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
