package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

const layerColumns = `id, parcel_id, observation_id, layer_type, index_name, source_uri, tilejson_url,
	is_model_derived, metadata_json, created_at`

// LayerFilter narrows a layer listing. Zero values match everything.
type LayerFilter struct {
	ObservationID *int64
	LayerType     string
	IndexName     string
	ModelDerived  *bool
	Limit         int
}

// LayerRepository handles database operations for layer assets
type LayerRepository struct {
	db *sql.DB
}

// NewLayerRepository creates a new layer repository
func NewLayerRepository(db *sql.DB) *LayerRepository {
	return &LayerRepository{db: db}
}

// Create inserts a layer asset.
func (r *LayerRepository) Create(ctx context.Context, l *models.LayerAsset) error {
	metadata, err := encodeJSON(l.Metadata)
	if err != nil {
		return err
	}
	stamp(&l.CreatedAt)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO layer_assets (
			parcel_id, observation_id, layer_type, index_name, source_uri, tilejson_url,
			is_model_derived, metadata_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ParcelID, nullInt(l.ObservationID), l.LayerType, nullString(l.IndexName), l.SourceURI,
		nullString(l.TileJSONURL), boolInt(l.IsModelDerived), metadata, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create layer asset: %w", err)
	}
	if l.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// SetTileJSONURL fills in the tile URL once the layer id is known.
func (r *LayerRepository) SetTileJSONURL(ctx context.Context, id int64, url string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE layer_assets SET tilejson_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("failed to update layer asset: %w", err)
	}
	return requireAffected(result, "layer", id)
}

func scanLayer(s rowScanner) (*models.LayerAsset, error) {
	l := &models.LayerAsset{}
	var obsID sql.NullInt64
	var indexName, tileURL, metadata sql.NullString
	var derived int
	err := s.Scan(
		&l.ID,
		&l.ParcelID,
		&obsID,
		&l.LayerType,
		&indexName,
		&l.SourceURI,
		&tileURL,
		&derived,
		&metadata,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.ObservationID = intPtr(obsID)
	l.IndexName = indexName.String
	l.TileJSONURL = tileURL.String
	l.IsModelDerived = derived != 0
	l.Metadata = map[string]interface{}{}
	if err := decodeJSON(metadata, &l.Metadata); err != nil {
		return nil, err
	}
	return l, nil
}

// GetByID retrieves a layer asset by ID
func (r *LayerRepository) GetByID(ctx context.Context, id int64) (*models.LayerAsset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layer_assets WHERE id = ?`, id)
	l, err := scanLayer(row)
	if err == sql.ErrNoRows {
		return nil, notFound("layer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layer asset: %w", err)
	}
	return l, nil
}

// ListByParcel returns the layers of a parcel newest first.
func (r *LayerRepository) ListByParcel(ctx context.Context, parcelID int64, filter LayerFilter) ([]*models.LayerAsset, error) {
	conditions := []string{"parcel_id = ?"}
	args := []interface{}{parcelID}

	if filter.ObservationID != nil {
		conditions = append(conditions, "observation_id = ?")
		args = append(args, *filter.ObservationID)
	}
	if filter.LayerType != "" {
		conditions = append(conditions, "layer_type = ?")
		args = append(args, filter.LayerType)
	}
	if filter.IndexName != "" {
		conditions = append(conditions, "index_name = ?")
		args = append(args, filter.IndexName)
	}
	if filter.ModelDerived != nil {
		conditions = append(conditions, "is_model_derived = ?")
		args = append(args, boolInt(*filter.ModelDerived))
	}

	query := `SELECT ` + layerColumns + ` FROM layer_assets WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list layer assets: %w", err)
	}
	defer rows.Close()

	var layers []*models.LayerAsset
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer asset: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}
