package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// AlertFilter narrows an alert listing.
type AlertFilter struct {
	ParcelID       *int64
	Category       string
	Unacknowledged bool
	Limit          int
	Offset         int
}

// AlertRepository handles database operations for alerts
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create appends an alert.
func (r *AlertRepository) Create(ctx context.Context, a *models.Alert) error {
	metadata, err := encodeJSON(a.Metadata)
	if err != nil {
		return err
	}
	stamp(&a.CreatedAt)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (organization_id, parcel_id, severity, category, message, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.OrganizationID, nullInt(a.ParcelID), a.Severity, a.Category, a.Message, metadata, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	if a.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func scanAlert(s rowScanner) (*models.Alert, error) {
	a := &models.Alert{}
	var parcelID sql.NullInt64
	var metadata, ackBy sql.NullString
	var ackAt sql.NullTime
	err := s.Scan(
		&a.ID,
		&a.OrganizationID,
		&parcelID,
		&a.Severity,
		&a.Category,
		&a.Message,
		&metadata,
		&ackAt,
		&ackBy,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ParcelID = intPtr(parcelID)
	a.AcknowledgedAt = timePtr(ackAt)
	a.AcknowledgedBy = ackBy.String
	a.Metadata = map[string]interface{}{}
	if err := decodeJSON(metadata, &a.Metadata); err != nil {
		return nil, err
	}
	return a, nil
}

const alertColumns = `id, organization_id, parcel_id, severity, category, message, metadata_json,
	acknowledged_at, acknowledged_by, created_at`

// List returns an organization's alerts newest first.
func (r *AlertRepository) List(ctx context.Context, organizationID string, filter AlertFilter) ([]*models.Alert, error) {
	conditions := []string{"organization_id = ?"}
	args := []interface{}{organizationID}

	if filter.ParcelID != nil {
		conditions = append(conditions, "parcel_id = ?")
		args = append(args, *filter.ParcelID)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Unacknowledged {
		conditions = append(conditions, "acknowledged_at IS NULL")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id int64) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// Acknowledge sets the acknowledgement fields of an organization's alert.
// Only these two columns are ever updated on an alert.
func (r *AlertRepository) Acknowledge(ctx context.Context, organizationID string, id int64, by string, at time.Time) (*models.Alert, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND organization_id = ?`,
		at.UTC(), nullString(by), id, organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if err := requireAffected(result, "alert", id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// FeatureFlagRepository handles database operations for feature flag overrides
type FeatureFlagRepository struct {
	db *sql.DB
}

// NewFeatureFlagRepository creates a new feature flag repository
func NewFeatureFlagRepository(db *sql.DB) *FeatureFlagRepository {
	return &FeatureFlagRepository{db: db}
}

// Get returns the override for (organization, key), or nil when none exists.
func (r *FeatureFlagRepository) Get(ctx context.Context, organizationID, key string) (*models.FeatureFlag, error) {
	f := &models.FeatureFlag{}
	var enabled int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, key, enabled, updated_at
		FROM feature_flags WHERE organization_id = ? AND key = ?`, organizationID, key).Scan(
		&f.ID, &f.OrganizationID, &f.Key, &enabled, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature flag: %w", err)
	}
	f.Enabled = enabled != 0
	return f, nil
}

// Set creates or replaces an override.
func (r *FeatureFlagRepository) Set(ctx context.Context, organizationID, key string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feature_flags (organization_id, key, enabled, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (organization_id, key) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		organizationID, key, boolInt(enabled), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to set feature flag: %w", err)
	}
	return nil
}
