// Package catalog searches a STAC imagery catalog and normalizes items into
// provider-agnostic scene records.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// MaxResults caps the number of scenes a search returns.
const MaxResults = 20

// Provider is recorded on every scene candidate.
const Provider = "planetary_computer"

// Client searches the catalog. Both implementations produce identical
// models.Scene values for the same catalog item.
type Client interface {
	// Search returns scenes intersecting geom acquired in [from, to], newest
	// first. maxCloud filters optical collections only.
	Search(ctx context.Context, geom orb.MultiPolygon, from, to time.Time, maxCloud *float64, collection string) ([]models.Scene, error)
	// GetByID returns nil without error when the scene does not exist.
	GetByID(ctx context.Context, sceneID, collection string) (*models.Scene, error)
}

// Options configures New.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds the client selected by cfg.Mode. In auto mode the catalog
// landing page is probed once; catalogs advertising item search with sorting
// get the search client, everything else the direct client.
func New(ctx context.Context, cfg config.CatalogConfig, opts Options) (Client, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, apperr.New(apperr.CodeInvalidConfig, "catalog url is required")
	}
	signer := NewSigner(cfg, opts.HTTPClient, opts.Logger)

	mode := strings.ToLower(cfg.Mode)
	if mode == "" || mode == "auto" {
		mode = "direct"
		ok, err := supportsSortedSearch(ctx, opts.HTTPClient, base)
		if err != nil {
			opts.Logger.Warn("catalog conformance probe failed, using direct client", "error", err)
		} else if ok {
			mode = "search"
		}
	}

	switch mode {
	case "search":
		return &SearchClient{baseURL: base, http: opts.HTTPClient, signer: signer, logger: opts.Logger}, nil
	case "direct":
		return &DirectClient{baseURL: base, http: opts.HTTPClient, signer: signer, logger: opts.Logger}, nil
	}
	return nil, apperr.Newf(apperr.CodeInvalidConfig, "unknown catalog mode %q", cfg.Mode)
}

func supportsSortedSearch(ctx context.Context, client *http.Client, base string) (bool, error) {
	var landing struct {
		ConformsTo []string `json:"conformsTo"`
	}
	if err := getJSON(ctx, client, base+"/", nil, &landing); err != nil {
		return false, err
	}
	var search, sort bool
	for _, c := range landing.ConformsTo {
		if strings.Contains(c, "/item-search") {
			search = true
			if strings.HasSuffix(c, "#sort") {
				sort = true
			}
		}
	}
	return search && sort, nil
}

type stacAsset struct {
	Href string `json:"href"`
}

type stacLink struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
	Merge  bool            `json:"merge"`
}

type stacItem struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	BBox       []float64              `json:"bbox"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	Assets     map[string]stacAsset   `json:"assets"`
}

type itemCollection struct {
	Features []stacItem `json:"features"`
	Links    []stacLink `json:"links"`
}

// previewAssets are tried in order for the scene preview URL.
var previewAssets = []string{"rendered_preview", "preview", "thumbnail", "visual"}

// toScene converts an item. Items without an acquisition datetime are
// dropped. Sentinel-1 scenes never carry cloud cover.
func toScene(ctx context.Context, item stacItem, fallbackCollection string, signer *Signer) (models.Scene, bool) {
	raw, _ := item.Properties["datetime"].(string)
	if raw == "" {
		return models.Scene{}, false
	}
	acquired, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return models.Scene{}, false
	}

	collection := item.Collection
	if collection == "" {
		collection = fallbackCollection
	}

	assets := make(map[string]string, len(item.Assets))
	for key, a := range item.Assets {
		assets[key] = signer.Sign(ctx, a.Href, collection)
	}

	scene := models.Scene{
		SceneID:    item.ID,
		Collection: collection,
		AcquiredAt: acquired.UTC(),
		Assets:     assets,
	}
	if cc, ok := item.Properties["eo:cloud_cover"].(float64); ok && models.IsOptical(collection) {
		scene.CloudCover = &cc
	}
	if len(item.BBox) >= 4 {
		scene.BBox = item.BBox
	}
	if len(item.Geometry) > 0 && string(item.Geometry) != "null" {
		if g, err := geojson.UnmarshalGeometry(item.Geometry); err == nil {
			scene.Footprint = g.Geometry()
		}
	}
	for _, key := range previewAssets {
		if href, ok := assets[key]; ok && href != "" {
			scene.PreviewURL = href
			break
		}
	}
	return scene, true
}

func dateRange(from, to time.Time) string {
	return from.Format("2006-01-02") + "/" + to.Format("2006-01-02")
}

func catalogError(err error, message string) error {
	return apperr.Wrap(apperr.CodeCatalog, err, message)
}

func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("catalog returned status %d: %s", e.Code, e.Body)
}
