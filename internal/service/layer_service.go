package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
)

// presignTTL is how long tile and download links stay valid
const presignTTL = time.Hour

// Presigner turns a stored object URI into a time-limited GET URL.
// external selects the public endpoint instead of the internal one.
type Presigner interface {
	Presign(ctx context.Context, uri string, expires time.Duration, external bool) (string, error)
}

// LayerService exposes layers and the tile renderer contract
type LayerService struct {
	layers    *repository.LayerRepository
	parcels   *ParcelService
	presigner Presigner
	tilerURL  string
}

// NewLayerService creates a new layer service. presigner may be nil, in
// which case stored URIs are handed out unchanged.
func NewLayerService(layers *repository.LayerRepository, parcels *ParcelService, presigner Presigner, tilerURL string) *LayerService {
	return &LayerService{
		layers:    layers,
		parcels:   parcels,
		presigner: presigner,
		tilerURL:  strings.TrimRight(tilerURL, "/"),
	}
}

// LayerMetadata is a layer with its rendering contract
type LayerMetadata struct {
	*models.LayerAsset
	Colormap string `json:"colormap,omitempty"`
	Rescale  string `json:"rescale,omitempty"`
}

// Get returns a layer of one of the organization's parcels
func (s *LayerService) Get(ctx context.Context, organizationID string, id int64) (*models.LayerAsset, error) {
	layer, err := s.layers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.parcels.Get(ctx, organizationID, layer.ParcelID); err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "layer not found: %d", id)
	}
	return layer, nil
}

// List returns the parcel's layers, newest first
func (s *LayerService) List(ctx context.Context, organizationID string, parcelID int64, filter repository.LayerFilter) ([]*models.LayerAsset, error) {
	if _, err := s.parcels.Get(ctx, organizationID, parcelID); err != nil {
		return nil, err
	}
	filter.IndexName = strings.ToUpper(filter.IndexName)
	filter.LayerType = strings.ToUpper(filter.LayerType)
	return s.layers.ListByParcel(ctx, parcelID, filter)
}

// Metadata returns the layer with its colormap and rescale range. Layers
// without an index (RGB, radar) carry no colormap.
func (s *LayerService) Metadata(ctx context.Context, organizationID string, id int64) (*LayerMetadata, error) {
	layer, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	out := &LayerMetadata{LayerAsset: layer}
	if colormap, rescale, ok := models.TileStyle(layer.IndexName); ok {
		out.Colormap, out.Rescale = colormap, rescale
	}
	return out, nil
}

// SignedURL returns a time-limited URL for a stored object. The internal
// endpoint is used for the tile renderer, the public one for browsers.
func (s *LayerService) SignedURL(ctx context.Context, uri string, external bool) (string, error) {
	if s.presigner == nil || uri == "" {
		return uri, nil
	}
	return s.presigner.Presign(ctx, uri, presignTTL, external)
}

// TileJSON builds a TileJSON document pointing the tile renderer at the
// layer's GeoTIFF.
func (s *LayerService) TileJSON(ctx context.Context, organizationID string, id int64) (map[string]interface{}, error) {
	meta, err := s.Metadata(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	source, err := s.SignedURL(ctx, meta.SourceURI, false)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("url", source)
	if meta.Colormap != "" {
		q.Set("colormap_name", meta.Colormap)
		q.Set("rescale", meta.Rescale)
	}
	tiles := s.tilerURL + "/cog/tiles/WebMercatorQuad/{z}/{x}/{y}.png?" + q.Encode()

	doc := map[string]interface{}{
		"tilejson": "2.2.0",
		"name":     layerName(meta.LayerAsset),
		"tiles":    []string{tiles},
		"minzoom":  0,
		"maxzoom":  22,
	}
	if scene, ok := meta.Metadata["scene_id"]; ok {
		doc["attribution"] = scene
	}
	return doc, nil
}

func layerName(l *models.LayerAsset) string {
	name := strings.ToLower(l.LayerType)
	if l.IndexName != "" {
		name += "-" + strings.ToLower(l.IndexName)
	}
	return name
}
