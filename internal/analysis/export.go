package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
)

// csvHeader is the column layout of CSV exports.
var csvHeader = []string{"observed_on", "status", "cloud_cover", "valid_pixel_ratio", "ndvi_mean", "ndmi_mean", "ndwi_mean"}

// Exporter runs export jobs.
type Exporter struct {
	db      Stores
	objects storage.Store
	http    *http.Client
	now     func() time.Time
	logger  *slog.Logger
}

// ExporterDeps are the collaborators of an Exporter.
type ExporterDeps struct {
	Stores     Stores
	Objects    storage.Store
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
}

// NewExporter creates the export runner.
func NewExporter(deps ExporterDeps) *Exporter {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Exporter{db: deps.Stores, objects: deps.Objects, http: deps.HTTPClient, now: deps.Now, logger: deps.Logger}
}

// Name identifies the runner.
func (e *Exporter) Name() string {
	return KindExport
}

// Run builds the artifact of a QUEUED export job and uploads it under
// exports/{id}.{ext}.
func (e *Exporter) Run(ctx context.Context, exportID int64) (models.JobResult, error) {
	job, err := e.db.Exports.GetByID(ctx, exportID)
	if err != nil {
		return nil, err
	}
	claimed, err := e.db.Exports.MarkRunning(ctx, exportID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("export job %d is not queued (status %s)", exportID, job.Status)
	}
	logger := e.logger.With("export_id", exportID, "format", job.Format)

	uri, runErr := e.build(ctx, job)
	if runErr != nil {
		logger.Error("export failed", "error", runErr)
		if err := e.db.Exports.Complete(context.WithoutCancel(ctx), exportID, models.JobFailed, "", nil, runErr.Error()); err != nil {
			return nil, fmt.Errorf("failed to store export outcome: %w", err)
		}
		return nil, runErr
	}

	result := models.JobResult{"id": exportID, "status": string(models.JobSucceeded), "output_uri": uri}
	if err := e.db.Exports.Complete(context.WithoutCancel(ctx), exportID, models.JobSucceeded, uri, result, ""); err != nil {
		return nil, fmt.Errorf("failed to store export outcome: %w", err)
	}
	logger.Info("export finished", "output_uri", uri)
	return result, nil
}

func (e *Exporter) build(ctx context.Context, job *models.ExportJob) (string, error) {
	parcel, err := e.db.Parcels.GetByID(ctx, job.ParcelID)
	if err != nil {
		return "", err
	}

	format := strings.ToUpper(job.Format)
	layer, err := e.selectLayer(ctx, parcel.ID, job.Params, format == models.ExportPNG)
	if err != nil {
		return "", err
	}
	if sourceMode(job.Params) == models.SourceSR && (layer == nil || !layer.IsModelDerived) {
		return "", e.missingSRLayer(ctx, parcel.ID)
	}

	var payload []byte
	var contentType, extension string
	switch format {
	case models.ExportCSV:
		payload, err = e.buildCSV(ctx, parcel.ID)
		contentType, extension = "text/csv", "csv"
	case models.ExportPNG:
		payload, err = e.buildPNG(ctx, parcel, layer)
		contentType, extension = "image/png", "png"
	case models.ExportGeoTIFF:
		if layer == nil || layer.SourceURI == "" {
			return "", fmt.Errorf("No layer asset available for GeoTIFF export")
		}
		payload, err = e.download(ctx, layer.SourceURI)
		contentType, extension = "image/tiff", "tif"
	default:
		return "", fmt.Errorf("unsupported export format %q", job.Format)
	}
	if err != nil {
		return "", err
	}

	key := storage.BuildObjectKey("exports", strconv.FormatInt(job.ID, 10), extension)
	return e.objects.Upload(ctx, key, payload, contentType)
}

func sourceMode(p models.ExportParams) string {
	if strings.ToLower(p.SourceMode) == models.SourceSR {
		return models.SourceSR
	}
	return models.SourceNative
}

// selectLayer picks the layer an export renders: the explicit layer id, or
// the newest layer of the requested source family preferring RGB for PNG,
// then the requested index, then anything. SR falls back to native.
func (e *Exporter) selectLayer(ctx context.Context, parcelID int64, params models.ExportParams, preferRGB bool) (*models.LayerAsset, error) {
	if params.LayerID != nil {
		layer, err := e.db.Layers.GetByID(ctx, *params.LayerID)
		if err != nil {
			return nil, err
		}
		if layer.ParcelID != parcelID {
			return nil, fmt.Errorf("layer %d does not belong to parcel %d", layer.ID, parcelID)
		}
		return layer, nil
	}

	indexName := strings.ToUpper(params.IndexName)
	pick := func(derived bool) (*models.LayerAsset, error) {
		var filters []repository.LayerFilter
		if preferRGB {
			filters = append(filters, repository.LayerFilter{LayerType: models.LayerRGB})
		}
		if indexName != "" {
			filters = append(filters, repository.LayerFilter{IndexName: indexName})
		}
		filters = append(filters, repository.LayerFilter{})
		for _, f := range filters {
			f.ModelDerived = &derived
			f.Limit = 1
			layers, err := e.db.Layers.ListByParcel(ctx, parcelID, f)
			if err != nil {
				return nil, err
			}
			if len(layers) > 0 {
				return layers[0], nil
			}
		}
		return nil, nil
	}

	wantSR := sourceMode(params) == models.SourceSR
	layer, err := pick(wantSR)
	if err != nil || layer != nil || !wantSR {
		return layer, err
	}
	return pick(false)
}

func (e *Exporter) missingSRLayer(ctx context.Context, parcelID int64) error {
	var details []string
	latest, err := e.db.Jobs.Latest(ctx, parcelID)
	switch {
	case err != nil:
		details = append(details, "latest job lookup failed: "+err.Error())
	case latest == nil:
		details = append(details, "no analysis jobs found")
	default:
		details = append(details,
			fmt.Sprintf("last_job=%d", latest.ID),
			fmt.Sprintf("last_job_status=%s", latest.Status))
		if s, ok := latest.Result["status"].(string); ok {
			details = append(details, "result_status="+s)
		}
		if s, ok := latest.Result["reason"].(string); ok {
			details = append(details, "reason="+s)
		}
		if b, ok := latest.Result["sr_visualization_generated"].(bool); ok {
			details = append(details, "sr_visualization_generated="+strconv.FormatBool(b))
		}
		if b, ok := latest.Result["sr_requested"].(bool); ok {
			details = append(details, "sr_requested="+strconv.FormatBool(b))
		}
		if s, ok := latest.Result["sr_provider"].(string); ok && s != "" {
			details = append(details, "sr_provider="+s)
		}
	}
	return fmt.Errorf("No SR MODEL_DERIVED layer available for export. "+
		"Run analysis with SR enabled and a working SR provider, then retry. Diagnostics: %s",
		strings.Join(details, ", "))
}

func (e *Exporter) buildCSV(ctx context.Context, parcelID int64) ([]byte, error) {
	observations, err := e.db.Observations.ListByParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, o := range observations {
		record := []string{
			o.ObservedOn.Format("2006-01-02"),
			o.Status,
			formatOptional(o.CloudCover),
			formatFloat(o.ValidPixelRatio),
			formatMean(o.IndicesNative, "NDVI"),
			formatMean(o.IndicesNative, "NDMI"),
			formatMean(o.IndicesNative, "NDWI"),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatMean(set models.IndexSet, name string) string {
	if v, ok := set.Mean(name); ok {
		return formatFloat(v)
	}
	return ""
}

// download reads an object from storage, falling back to a plain HTTP GET
// for URIs the store does not own.
func (e *Exporter) download(ctx context.Context, uri string) ([]byte, error) {
	data, err := e.objects.Download(ctx, uri)
	if err == nil {
		return data, nil
	}
	e.logger.Debug("object store download failed, trying HTTP", "uri", uri, "error", err)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if reqErr != nil {
		return nil, err
	}
	resp, httpErr := e.http.Do(req)
	if httpErr != nil {
		return nil, fmt.Errorf("failed to download %s: %w", uri, httpErr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
