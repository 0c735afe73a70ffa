package analysis

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"image/png"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/database"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
	"github.com/jengzang/fieldscan-backend-go/internal/superres"
)

var testNow = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	scenes map[string][]models.Scene
	byID   map[string]*models.Scene
	err    error
}

func (c *fakeCatalog) Search(_ context.Context, _ orb.MultiPolygon, _, _ time.Time, _ *float64, collection string) ([]models.Scene, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.scenes[collection], nil
}

func (c *fakeCatalog) GetByID(_ context.Context, sceneID, _ string) (*models.Scene, error) {
	return c.byID[sceneID], nil
}

type fakePatches struct {
	patch *raster.Patch
	err   error
}

func (f *fakePatches) ReadPatch(context.Context, map[string]string, orb.MultiPolygon, []string) (*raster.Patch, error) {
	return f.patch, f.err
}

type fakeFlags map[string]bool

func (f fakeFlags) IsEnabled(_ context.Context, _, key string) (bool, error) {
	return f[key], nil
}

type failingEngine struct{}

func (failingEngine) Capabilities() superres.Capabilities {
	return superres.Capabilities{ModelName: "broken", Version: "0", SupportedBands: []string{"B04"}, ScaleFactor: 4, RuntimeClass: superres.RuntimeExternal}
}

func (failingEngine) Generate(context.Context, superres.Request) (map[string]*raster.Grid, error) {
	return nil, apperr.New(apperr.CodeSRInference, "provider unreachable")
}

type harness struct {
	cfg     *config.Config
	db      *sql.DB
	stores  Stores
	objects *storage.MemoryStore
	catalog *fakeCatalog
	patches *fakePatches
	flags   fakeFlags
	engine  superres.Engine
	parcel  *models.Parcel

	parcels      *repository.ParcelRepository
	jobs         *repository.AnalysisJobRepository
	exports      *repository.ExportJobRepository
	observations *repository.ObservationRepository
	layers       *repository.LayerRepository
	alerts       *repository.AlertRepository
}

func square(x0, y0, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0},
	}}}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "analysis.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateUp(db))

	cfg := config.Default()
	cfg.SR.Provider = "debug"

	h := &harness{
		cfg:          cfg,
		db:           db,
		objects:      storage.NewMemoryStore("http://minio:9000", "fieldscan"),
		catalog:      &fakeCatalog{scenes: map[string][]models.Scene{}, byID: map[string]*models.Scene{}},
		patches:      &fakePatches{},
		flags:        fakeFlags{},
		engine:       superres.NewDebug(),
		parcels:      repository.NewParcelRepository(db),
		jobs:         repository.NewAnalysisJobRepository(db),
		exports:      repository.NewExportJobRepository(db),
		observations: repository.NewObservationRepository(db),
		layers:       repository.NewLayerRepository(db),
		alerts:       repository.NewAlertRepository(db),
	}
	h.stores = Stores{
		Parcels:      h.parcels,
		Jobs:         h.jobs,
		Scenes:       repository.NewSceneRepository(db),
		Observations: h.observations,
		Profiles:     repository.NewSRProfileRepository(db),
		Layers:       h.layers,
		Alerts:       h.alerts,
		Exports:      h.exports,
	}

	h.parcel = &models.Parcel{OrganizationID: "org-1", Name: "north field", Geometry: square(10, 45, 0.01), AreaHa: 87}
	require.NoError(t, h.parcels.Create(context.Background(), h.parcel))
	return h
}

func (h *harness) pipeline() *Pipeline {
	return NewPipeline(h.cfg, PipelineDeps{
		Catalog:   h.catalog,
		Patches:   h.patches,
		NewEngine: func() (superres.Engine, error) { return h.engine, nil },
		Flags:     h.flags,
		Objects:   h.objects,
		Stores:    h.stores,
		Now:       func() time.Time { return testNow },
	})
}

func (h *harness) exporter() *Exporter {
	return NewExporter(ExporterDeps{Stores: h.stores, Objects: h.objects, Now: func() time.Time { return testNow }})
}

func (h *harness) queue(t *testing.T, params models.AnalysisParams) *models.AnalysisJob {
	t.Helper()
	job := &models.AnalysisJob{ParcelID: h.parcel.ID, Params: params}
	require.NoError(t, h.jobs.Create(context.Background(), job))
	return job
}

func (h *harness) alertsOf(t *testing.T, category string) []*models.Alert {
	t.Helper()
	alerts, err := h.alerts.List(context.Background(), "org-1", repository.AlertFilter{Category: category})
	require.NoError(t, err)
	return alerts
}

func covering(id string, cloud float64) models.Scene {
	return models.Scene{
		SceneID:    id,
		Collection: models.CollectionSentinel2,
		AcquiredAt: testNow.Add(-48 * time.Hour),
		CloudCover: &cloud,
		Assets:     map[string]string{"B04": "https://example.test/" + id + "/B04.tif"},
		Footprint:  square(9, 44, 3)[0],
	}
}

// testPatch is a 4x4 patch whose NDVI is (nir-red)/(nir+red) everywhere.
func testPatch(red, nir float64) *raster.Patch {
	fill := func(v float64) *raster.Grid { return raster.NewGridFilled(4, 4, v) }
	return &raster.Patch{
		Bands: map[string]*raster.Grid{
			"B02": fill(0.05), "B03": fill(0.08), "B04": fill(red),
			"B05": fill(0.2), "B08": fill(nir), "B11": fill(0.15),
		},
		Valid:     raster.NewMask(4, 4, true),
		Transform: raster.FromOrigin(500000, 5000000, 10, 10),
		EPSG:      32632,
	}
}

func TestRegistry(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry(h.pipeline(), h.exporter())
	assert.Equal(t, []string{KindAnalysis, KindExport}, reg.Kinds())

	_, ok := reg.Get("reindex")
	assert.False(t, ok)
	_, err := reg.Run(context.Background(), "reindex", 1)
	assert.Error(t, err)
}

func TestNDVIDrop(t *testing.T) {
	current := models.IndexSet{"NDVI": {Stats: models.IndexStats{Mean: ptr(0.40)}}}
	prior := []*models.Observation{ndviObservation(0.70), ndviObservation(0.72), ndviObservation(0.68)}

	baseline, mean, delta, fired := NDVIDrop(current, prior)
	assert.True(t, fired)
	assert.InDelta(t, 0.70, baseline, 1e-9)
	assert.InDelta(t, 0.40, mean, 1e-9)
	assert.InDelta(t, 0.30, delta, 1e-9)

	_, _, _, fired = NDVIDrop(current, prior[:2])
	assert.False(t, fired)

	steady := models.IndexSet{"NDVI": {Stats: models.IndexStats{Mean: ptr(0.60)}}}
	_, _, _, fired = NDVIDrop(steady, prior)
	assert.False(t, fired)
}

func ptr[T any](v T) *T { return &v }

func ndviObservation(mean float64) *models.Observation {
	return &models.Observation{IndicesNative: models.IndexSet{"NDVI": {Stats: models.IndexStats{Mean: ptr(mean)}}}}
}

func TestPipelineSucceedsWithNativeLayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.catalog.scenes[models.CollectionSentinel1] = []models.Scene{{
		SceneID:    "S1A_1",
		Collection: models.CollectionSentinel1,
		Assets:     map[string]string{"vh": "https://example.test/vh.tif", "vv": "https://example.test/vv.tif"},
	}}
	h.patches.patch = testPatch(0.1, 0.5)
	job := h.queue(t, models.AnalysisParams{})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "S2A_1", result["scene_id"])
	assert.Equal(t, false, result["sr_requested"])
	assert.Contains(t, result["native_indices"], "NDVI")

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	observations, err := h.observations.ListByParcel(ctx, h.parcel.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	obs := observations[0]
	assert.Equal(t, models.ObservationSucceeded, obs.Status)
	assert.Equal(t, 1.0, obs.ValidPixelRatio)
	ndvi, ok := obs.IndicesNative.Mean("NDVI")
	require.True(t, ok)
	assert.InDelta(t, 0.4/0.6, ndvi, 1e-9)
	assert.Empty(t, obs.IndicesSR)

	rgb, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{LayerType: models.LayerRGB})
	require.NoError(t, err)
	require.Len(t, rgb, 1)
	assert.False(t, rgb[0].IsModelDerived)
	assert.Equal(t, "TRUE_COLOR", rgb[0].Metadata["visualization"])
	assert.Equal(t, "/api/v1/tiles/"+itoa(rgb[0].ID), rgb[0].TileJSONURL)
	assert.True(t, strings.HasPrefix(rgb[0].SourceURI, "http://minio:9000/fieldscan/layers/"))

	radar, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{LayerType: models.LayerRadar})
	require.NoError(t, err)
	require.Len(t, radar, 1)
	assert.Equal(t, "https://example.test/vv.tif", radar[0].SourceURI)
	assert.Equal(t, "SENTINEL1_RTC", radar[0].Metadata["overlay_type"])

	ndviLayers, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{IndexName: "NDVI"})
	require.NoError(t, err)
	require.Len(t, ndviLayers, 1)
	payload, err := h.objects.Download(ctx, ndviLayers[0].SourceURI)
	require.NoError(t, err)
	ds, err := raster.OpenBytes(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Width)
	assert.Equal(t, 32632, ds.EPSG)
}

func TestPipelineSkipsCloudyScene(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_cloudy", 35)}
	h.patches.patch = testPatch(0.1, 0.5)
	job := h.queue(t, models.AnalysisParams{MaxCloud: ptr(80.0)})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonLowQualitySkipped, result["status"])

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSkipped, stored.Status)

	observations, err := h.observations.ListByParcel(ctx, h.parcel.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, models.ObservationLowQualitySkipped, observations[0].Status)

	alerts := h.alertsOf(t, models.AlertLowQualitySkipped)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarn, alerts[0].Severity)

	layers, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{})
	require.NoError(t, err)
	assert.Empty(t, layers)
}

func TestPipelineSkipsLowCoverage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	partial := covering("S2A_edge", 5)
	partial.Footprint = square(10.005, 44, 3)[0]
	h.catalog.byID["S2A_edge"] = &partial
	job := h.queue(t, models.AnalysisParams{SceneID: "S2A_edge"})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonLowSceneCoverage, result["reason"])
	assert.InDelta(t, 0.5, result["field_coverage_ratio"], 1e-6)
	assert.Len(t, h.alertsOf(t, models.AlertLowSceneCoverage), 1)
}

func TestPipelineNoScenes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.queue(t, models.AnalysisParams{})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoSceneAvailable, result["reason"])

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSkipped, stored.Status)
}

func TestPipelineNoSceneMeetsCoverage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	outside := covering("S2A_far", 5)
	outside.Footprint = square(20, 20, 1)[0]
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{outside}
	job := h.queue(t, models.AnalysisParams{})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoSceneMeetsCoverage, result["reason"])
	assert.Equal(t, 1, result["scene_count"])
}

func TestPipelineRequestedSceneNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	job := h.queue(t, models.AnalysisParams{SceneID: "S2B_missing"})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonRequestedSceneNotFound, result["reason"])

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, "Requested scene 'S2B_missing' was not found.", stored.ErrorMessage)
}

func TestPipelineRasterFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.err = apperr.New(apperr.CodeRaster, "asset unreachable")
	job := h.queue(t, models.AnalysisParams{})

	_, err := h.pipeline().Run(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeRaster))

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "asset unreachable")

	observations, err := h.observations.ListByParcel(ctx, h.parcel.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, models.ObservationFailed, observations[0].Status)
}

func TestPipelineRejectsClaimedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.queue(t, models.AnalysisParams{})
	claimed, err := h.jobs.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = h.pipeline().Run(ctx, job.ID)
	assert.Error(t, err)
}

func TestPipelineSRFailureKeepsNativeResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.patch = testPatch(0.1, 0.5)
	h.flags[models.FlagSRAnalytics] = true
	h.engine = failingEngine{}
	job := h.queue(t, models.AnalysisParams{IncludeSR: true, IncludeRadarOverlay: ptr(false)})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, true, result["sr_requested"])
	assert.Equal(t, false, result["sr_visualization_generated"])
	assert.Equal(t, "debug", result["sr_provider"])

	observations, err := h.observations.ListByParcel(ctx, h.parcel.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.NotEmpty(t, observations[0].IndicesNative)
	assert.Empty(t, observations[0].IndicesSR)

	alerts := h.alertsOf(t, models.AlertSRInferenceFailed)
	require.Len(t, alerts, 1)
	assert.Equal(t, "debug", alerts[0].Metadata["provider"])

	derived := true
	srLayers, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{ModelDerived: &derived})
	require.NoError(t, err)
	assert.Empty(t, srLayers)
}

func TestPipelineDebugSR(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.patch = testPatch(0.1, 0.5)
	h.flags[models.FlagSRAnalytics] = true
	job := h.queue(t, models.AnalysisParams{IncludeSR: true, IncludeRadarOverlay: ptr(false)})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, true, result["sr_visualization_generated"])
	assert.Contains(t, result["sr_indices"], "NDVI")
	assert.NotContains(t, result["sr_indices"], "NDMI")

	observations, err := h.observations.ListByParcel(ctx, h.parcel.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.NotNil(t, observations[0].SRModelProfileID)
	srNDVI, ok := observations[0].IndicesSR.Mean("NDVI")
	require.True(t, ok)
	assert.InDelta(t, 0.4/0.6, srNDVI, 1e-9)

	derived := true
	rgb, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{LayerType: models.LayerRGB, ModelDerived: &derived})
	require.NoError(t, err)
	require.Len(t, rgb, 1)
	assert.Equal(t, "MODEL_DERIVED", rgb[0].Metadata["provenance"])
	assert.Equal(t, 5.0, rgb[0].Metadata["resolution_m"])
	assert.Equal(t, 5.0, rgb[0].Metadata["pixel_size_m"])

	payload, err := h.objects.Download(ctx, rgb[0].SourceURI)
	require.NoError(t, err)
	ds, err := raster.OpenBytes(payload)
	require.NoError(t, err)
	assert.Equal(t, 8, ds.Width)
	assert.Equal(t, 3, ds.Count())
	xsize, _ := ds.Transform.PixelSize()
	assert.InDelta(t, 5.0, xsize, 1e-9)
}

func TestPipelineSRWithoutAnalytics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.patch = testPatch(0.1, 0.5)
	job := h.queue(t, models.AnalysisParams{IncludeSR: true, IncludeRadarOverlay: ptr(false)})

	result, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, false, result["sr_analytics_enabled"])
	assert.Equal(t, true, result["sr_visualization_generated"])
	assert.Empty(t, result["sr_indices"])

	srIndex, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{LayerType: models.LayerSRIndex})
	require.NoError(t, err)
	assert.Empty(t, srIndex)
}

func TestPipelineNDVIDropAlert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i, mean := range []float64{0.68, 0.72, 0.70} {
		require.NoError(t, h.observations.Create(ctx, &models.Observation{
			ParcelID:      h.parcel.ID,
			ObservedOn:    testNow.AddDate(0, 0, -30+i*5).Truncate(24 * time.Hour),
			Status:        models.ObservationSucceeded,
			IndicesNative: models.IndexSet{"NDVI": {Stats: models.IndexStats{Mean: ptr(mean)}}},
			IndicesSR:     models.IndexSet{},
		}))
	}
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.patch = testPatch(0.3, 0.7)
	job := h.queue(t, models.AnalysisParams{IncludeRadarOverlay: ptr(false)})

	_, err := h.pipeline().Run(ctx, job.ID)
	require.NoError(t, err)

	alerts := h.alertsOf(t, models.AlertNDVIDrop)
	require.Len(t, alerts, 1)
	assert.Equal(t, "NDVI dropped by 0.30 against recent baseline.", alerts[0].Message)
	assert.InDelta(t, 0.30, alerts[0].Metadata["delta"], 1e-6)
}

func TestPipelineCatalogError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.catalog.err = apperr.New(apperr.CodeCatalog, "catalog down")
	job := h.queue(t, models.AnalysisParams{})

	_, err := h.pipeline().Run(ctx, job.ID)
	require.Error(t, err)

	stored, err := h.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, "catalog down", stored.ErrorMessage)
}

func (h *harness) analysed(t *testing.T, params models.AnalysisParams) {
	t.Helper()
	h.catalog.scenes[models.CollectionSentinel2] = []models.Scene{covering("S2A_1", 5)}
	h.patches.patch = testPatch(0.1, 0.5)
	job := h.queue(t, params)
	_, err := h.pipeline().Run(context.Background(), job.ID)
	require.NoError(t, err)
}

func (h *harness) export(t *testing.T, format string, params models.ExportParams) (*models.ExportJob, error) {
	t.Helper()
	ctx := context.Background()
	job := &models.ExportJob{ParcelID: h.parcel.ID, Format: format, Params: params}
	require.NoError(t, h.exports.Create(ctx, job))
	_, runErr := h.exporter().Run(ctx, job.ID)
	stored, err := h.exports.GetByID(ctx, job.ID)
	require.NoError(t, err)
	return stored, runErr
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t)
	h.analysed(t, models.AnalysisParams{IncludeRadarOverlay: ptr(false)})

	job, err := h.export(t, models.ExportCSV, models.ExportParams{})
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Equal(t, "http://minio:9000/fieldscan/exports/"+itoa(job.ID)+".csv", job.OutputURI)
	assert.Equal(t, "text/csv", h.objects.ContentType("exports/"+itoa(job.ID)+".csv"))

	payload, err := h.objects.Download(context.Background(), job.OutputURI)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "2025-06-13", records[1][0])
	assert.Equal(t, models.ObservationSucceeded, records[1][1])
	assert.Equal(t, "5", records[1][2])
	assert.NotEmpty(t, records[1][4])
}

func TestExportPNG(t *testing.T) {
	h := newHarness(t)
	h.analysed(t, models.AnalysisParams{IncludeRadarOverlay: ptr(false)})

	job, err := h.export(t, models.ExportPNG, models.ExportParams{})
	require.NoError(t, err)
	payload, err := h.objects.Download(context.Background(), job.OutputURI)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 800, img.Bounds().Dy())
}

func TestExportPNGMetricsCard(t *testing.T) {
	h := newHarness(t)

	job, err := h.export(t, models.ExportPNG, models.ExportParams{})
	require.NoError(t, err)
	payload, err := h.objects.Download(context.Background(), job.OutputURI)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 1100, img.Bounds().Dx())
	assert.Equal(t, 700, img.Bounds().Dy())

	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Equal(t, [3]uint32{34, 74, 44}, [3]uint32{r >> 8, g >> 8, b >> 8})
}

func TestExportGeoTIFF(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.analysed(t, models.AnalysisParams{IncludeRadarOverlay: ptr(false)})

	layers, err := h.layers.ListByParcel(ctx, h.parcel.ID, repository.LayerFilter{IndexName: "NDMI"})
	require.NoError(t, err)
	require.Len(t, layers, 1)

	job, err := h.export(t, models.ExportGeoTIFF, models.ExportParams{IndexName: "ndmi"})
	require.NoError(t, err)
	got, err := h.objects.Download(ctx, job.OutputURI)
	require.NoError(t, err)
	want, err := h.objects.Download(ctx, layers[0].SourceURI)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportGeoTIFFWithoutLayers(t *testing.T) {
	h := newHarness(t)

	job, err := h.export(t, models.ExportGeoTIFF, models.ExportParams{})
	require.Error(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "No layer asset available for GeoTIFF export", job.ErrorMessage)
}

func TestExportSRMissingLayer(t *testing.T) {
	h := newHarness(t)
	h.analysed(t, models.AnalysisParams{IncludeRadarOverlay: ptr(false)})

	job, err := h.export(t, models.ExportGeoTIFF, models.ExportParams{SourceMode: "SR"})
	require.Error(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "No SR MODEL_DERIVED layer available for export")
	assert.Contains(t, job.ErrorMessage, "sr_requested=false")
}

func TestExportSRLayer(t *testing.T) {
	h := newHarness(t)
	h.analysed(t, models.AnalysisParams{IncludeSR: true, IncludeRadarOverlay: ptr(false)})

	job, err := h.export(t, models.ExportPNG, models.ExportParams{SourceMode: models.SourceSR})
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.Status)
}

func TestExportRejectsForeignLayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	other := &models.Parcel{OrganizationID: "org-1", Name: "south field", Geometry: square(11, 45, 0.01)}
	require.NoError(t, h.parcels.Create(ctx, other))
	layer := &models.LayerAsset{ParcelID: other.ID, LayerType: models.LayerRGB, SourceURI: "http://minio:9000/fieldscan/x.tif"}
	require.NoError(t, h.layers.Create(ctx, layer))

	job, err := h.export(t, models.ExportGeoTIFF, models.ExportParams{LayerID: &layer.ID})
	require.Error(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
