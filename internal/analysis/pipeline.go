package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/catalog"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/indices"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
	"github.com/jengzang/fieldscan-backend-go/internal/superres"
)

// PatchBands is the band set read for every analysis.
var PatchBands = []string{"B02", "B03", "B04", "B05", "B08", "B11"}

const (
	nativeResolutionM    = 10.0
	defaultSRResolutionM = 2.5
	defaultLookback      = 30 * 24 * time.Hour
	radarWindow          = 3 * 24 * time.Hour
	radarMaxCloud        = 100.0
)

// PatchReader extracts the aligned band patch under a parcel.
type PatchReader interface {
	ReadPatch(ctx context.Context, assets map[string]string, parcel orb.MultiPolygon, bands []string) (*raster.Patch, error)
}

// FlagChecker resolves per-organization feature flags.
type FlagChecker interface {
	IsEnabled(ctx context.Context, organizationID, key string) (bool, error)
}

// EngineFactory builds the configured SR backend.
type EngineFactory func() (superres.Engine, error)

// Stores bundles the persistence used by the runners.
type Stores struct {
	Parcels interface {
		GetByID(ctx context.Context, id int64) (*models.Parcel, error)
	}
	Jobs interface {
		GetByID(ctx context.Context, id int64) (*models.AnalysisJob, error)
		MarkRunning(ctx context.Context, id int64) (bool, error)
		Complete(ctx context.Context, id int64, status models.JobStatus, result models.JobResult, errMsg string) error
		Latest(ctx context.Context, parcelID int64) (*models.AnalysisJob, error)
	}
	Scenes interface {
		Create(ctx context.Context, c *models.SceneCandidate) error
		SetValidPixelRatio(ctx context.Context, id int64, ratio float64) error
	}
	Observations interface {
		Create(ctx context.Context, o *models.Observation) error
		Recent(ctx context.Context, parcelID, excludeID int64, limit int) ([]*models.Observation, error)
		ListByParcel(ctx context.Context, parcelID int64) ([]*models.Observation, error)
	}
	Profiles interface {
		Ensure(ctx context.Context, p models.SRModelProfile) (*models.SRModelProfile, error)
	}
	Layers interface {
		Create(ctx context.Context, l *models.LayerAsset) error
		SetTileJSONURL(ctx context.Context, id int64, url string) error
		GetByID(ctx context.Context, id int64) (*models.LayerAsset, error)
		ListByParcel(ctx context.Context, parcelID int64, filter repository.LayerFilter) ([]*models.LayerAsset, error)
	}
	Alerts interface {
		Create(ctx context.Context, a *models.Alert) error
	}
	Exports interface {
		GetByID(ctx context.Context, id int64) (*models.ExportJob, error)
		MarkRunning(ctx context.Context, id int64) (bool, error)
		Complete(ctx context.Context, id int64, status models.JobStatus, outputURI string, result models.JobResult, errMsg string) error
	}
}

// Pipeline runs analysis jobs: scene selection, patch read, indices,
// optional super-resolution, layers and alerts.
type Pipeline struct {
	quality    config.QualityConfig
	srProvider string
	catalog    catalog.Client
	patches    PatchReader
	newEngine  EngineFactory
	flags      FlagChecker
	objects    storage.Store
	db         Stores
	now        func() time.Time
	logger     *slog.Logger
}

// PipelineDeps are the collaborators of a Pipeline.
type PipelineDeps struct {
	Catalog   catalog.Client
	Patches   PatchReader
	NewEngine EngineFactory
	Flags     FlagChecker
	Objects   storage.Store
	Stores    Stores
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewPipeline creates the analysis pipeline.
func NewPipeline(cfg *config.Config, deps PipelineDeps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		quality:    cfg.Quality,
		srProvider: cfg.SR.Provider,
		catalog:    deps.Catalog,
		patches:    deps.Patches,
		newEngine:  deps.NewEngine,
		flags:      deps.Flags,
		objects:    deps.Objects,
		db:         deps.Stores,
		now:        deps.Now,
		logger:     deps.Logger,
	}
}

// Name identifies the runner.
func (p *Pipeline) Name() string {
	return KindAnalysis
}

// outcome is the terminal state of one run.
type outcome struct {
	status models.JobStatus
	result models.JobResult
	errMsg string
}

// Run executes a QUEUED analysis job and stores its terminal state. The
// returned error is non-nil only when the job ended FAILED because of an
// error (not a policy outcome).
func (p *Pipeline) Run(ctx context.Context, jobID int64) (models.JobResult, error) {
	job, err := p.db.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	claimed, err := p.db.Jobs.MarkRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("analysis job %d is not queued (status %s)", jobID, job.Status)
	}

	started := p.now()
	logger := p.logger.With("job_id", jobID, "parcel_id", job.ParcelID)
	logger.Info("analysis started")

	out, runErr := p.execute(ctx, job, logger)
	if runErr != nil {
		out = outcome{status: models.JobFailed, errMsg: runErr.Error()}
		logger.Error("analysis failed", "error", runErr, "code", apperr.CodeOf(runErr))
	}
	// the terminal write must survive a cancelled run context
	if err := p.db.Jobs.Complete(context.WithoutCancel(ctx), jobID, out.status, out.result, out.errMsg); err != nil {
		return nil, fmt.Errorf("failed to store analysis outcome: %w", err)
	}
	logger.Info("analysis finished", "status", out.status, "duration", p.now().Sub(started).Round(time.Millisecond))
	return out.result, runErr
}

func (p *Pipeline) maxCloud(params models.AnalysisParams) float64 {
	if params.MaxCloud != nil && *params.MaxCloud > 0 {
		return *params.MaxCloud
	}
	return p.quality.CloudCapPercent
}

func (p *Pipeline) dateRange(params models.AnalysisParams) (time.Time, time.Time, error) {
	today := p.now().UTC().Truncate(24 * time.Hour)
	from, to := today.Add(-defaultLookback), today
	var err error
	if params.DateFrom != "" {
		if from, err = time.Parse("2006-01-02", params.DateFrom); err != nil {
			return from, to, fmt.Errorf("invalid date_from %q", params.DateFrom)
		}
	}
	if params.DateTo != "" {
		if to, err = time.Parse("2006-01-02", params.DateTo); err != nil {
			return from, to, fmt.Errorf("invalid date_to %q", params.DateTo)
		}
	}
	return from, to, nil
}

func (p *Pipeline) execute(ctx context.Context, job *models.AnalysisJob, logger *slog.Logger) (outcome, error) {
	parcel, err := p.db.Parcels.GetByID(ctx, job.ParcelID)
	if err != nil {
		return outcome{}, err
	}
	params := job.Params
	from, to, err := p.dateRange(params)
	if err != nil {
		return outcome{}, err
	}
	maxCloud := p.maxCloud(params)

	scenes, err := p.catalog.Search(ctx, parcel.Geometry, from, to, &maxCloud, models.CollectionSentinel2)
	if err != nil {
		return outcome{}, err
	}

	var selected *models.Scene
	coverage := 0.0
	if requested := strings.TrimSpace(params.SceneID); requested != "" {
		for i := range scenes {
			if scenes[i].SceneID == requested {
				selected = &scenes[i]
				break
			}
		}
		if selected == nil {
			if selected, err = p.catalog.GetByID(ctx, requested, models.CollectionSentinel2); err != nil {
				return outcome{}, err
			}
		}
		if selected == nil {
			return outcome{
				status: models.JobFailed,
				errMsg: fmt.Sprintf("Requested scene '%s' was not found.", requested),
				result: models.JobResult{
					"status":   string(models.JobFailed),
					"reason":   models.ReasonRequestedSceneNotFound,
					"scene_id": requested,
				},
			}, nil
		}
		coverage = catalog.CoverageRatio(*selected, parcel.Geometry)
	}

	if selected == nil && len(scenes) == 0 {
		return outcome{status: models.JobSkipped, result: models.JobResult{"reason": models.ReasonNoSceneAvailable}}, nil
	}

	if selected == nil {
		for i := range scenes {
			c := catalog.CoverageRatio(scenes[i], parcel.Geometry)
			if c >= p.quality.MinSceneCoverageRatio {
				selected, coverage = &scenes[i], c
				break
			}
		}
		if selected == nil {
			return outcome{status: models.JobSkipped, result: models.JobResult{
				"status":                   string(models.JobSkipped),
				"reason":                   models.ReasonNoSceneMeetsCoverage,
				"scene_count":              len(scenes),
				"min_scene_coverage_ratio": p.quality.MinSceneCoverageRatio,
			}}, nil
		}
	}
	logger = logger.With("scene_id", selected.SceneID)

	candidate := &models.SceneCandidate{
		ParcelID:      parcel.ID,
		Provider:      catalog.Provider,
		Collection:    selected.Collection,
		SceneID:       selected.SceneID,
		AcquiredAt:    selected.AcquiredAt,
		CloudCover:    selected.CloudCover,
		CoverageRatio: coverage,
		Assets:        selected.Assets,
	}
	if err := p.db.Scenes.Create(ctx, candidate); err != nil {
		return outcome{}, err
	}

	r := &run{
		Pipeline:  p,
		job:       job,
		parcel:    parcel,
		scene:     selected,
		candidate: candidate,
		logger:    logger,
	}

	if coverage < p.quality.MinSceneCoverageRatio {
		return r.skipLowCoverage(ctx, coverage)
	}
	return r.analyse(ctx)
}

// run carries the state of one analysis past scene selection.
type run struct {
	*Pipeline
	job       *models.AnalysisJob
	parcel    *models.Parcel
	scene     *models.Scene
	candidate *models.SceneCandidate
	logger    *slog.Logger
}

func (r *run) observation(status string, validRatio float64) *models.Observation {
	return &models.Observation{
		ParcelID:         r.parcel.ID,
		JobID:            &r.job.ID,
		SceneCandidateID: &r.candidate.ID,
		ObservedOn:       r.scene.AcquiredAt.UTC().Truncate(24 * time.Hour),
		Status:           status,
		CloudCover:       r.scene.CloudCover,
		ValidPixelRatio:  validRatio,
		IndicesNative:    models.IndexSet{},
		IndicesSR:        models.IndexSet{},
	}
}

func (r *run) alert(ctx context.Context, category, message string, metadata map[string]interface{}) error {
	return r.db.Alerts.Create(ctx, &models.Alert{
		OrganizationID: r.parcel.OrganizationID,
		ParcelID:       &r.parcel.ID,
		Severity:       models.SeverityWarn,
		Category:       category,
		Message:        message,
		Metadata:       metadata,
	})
}

func (r *run) skipLowCoverage(ctx context.Context, coverage float64) (outcome, error) {
	minCoverage := r.quality.MinSceneCoverageRatio
	if err := r.db.Observations.Create(ctx, r.observation(models.ObservationLowQualitySkipped, coverage)); err != nil {
		return outcome{}, err
	}
	err := r.alert(ctx, models.AlertLowSceneCoverage,
		fmt.Sprintf("Scene skipped: field_coverage=%.3f (min=%.3f).", coverage, minCoverage),
		map[string]interface{}{
			"scene_id":                 r.scene.SceneID,
			"field_coverage_ratio":     coverage,
			"min_scene_coverage_ratio": minCoverage,
		})
	if err != nil {
		return outcome{}, err
	}
	r.logger.Info("scene skipped for coverage", "coverage", coverage)
	return outcome{status: models.JobSkipped, result: models.JobResult{
		"status":                   string(models.JobSkipped),
		"reason":                   models.ReasonLowSceneCoverage,
		"scene_id":                 r.scene.SceneID,
		"field_coverage_ratio":     coverage,
		"min_scene_coverage_ratio": minCoverage,
	}}, nil
}

func (r *run) analyse(ctx context.Context) (outcome, error) {
	patch, err := r.patches.ReadPatch(ctx, r.scene.Assets, r.parcel.Geometry, PatchBands)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeRaster) {
			if obsErr := r.db.Observations.Create(ctx, r.observation(models.ObservationFailed, 0)); obsErr != nil {
				r.logger.Error("failed to record failed observation", "error", obsErr)
			}
		}
		return outcome{}, err
	}

	validRatio := indices.ValidPixelRatio(patch.Valid)
	if err := r.db.Scenes.SetValidPixelRatio(ctx, r.candidate.ID, validRatio); err != nil {
		return outcome{}, err
	}

	cloud := 0.0
	if r.scene.CloudCover != nil {
		cloud = *r.scene.CloudCover
	}
	if cloud > r.quality.CloudCapPercent || validRatio < r.quality.MinValidPixelRatio {
		return r.skipLowQuality(ctx, cloud, validRatio)
	}

	nativeRasters, nativeStats := indices.Compute(patch.Bands, patch.Valid)
	sr := r.superResolve(ctx, patch)

	obs := r.observation(models.ObservationSucceeded, validRatio)
	obs.IndicesNative = nativeStats
	obs.IndicesSR = sr.stats
	obs.SRModelProfileID = sr.profileID
	if err := r.db.Observations.Create(ctx, obs); err != nil {
		return outcome{}, err
	}

	if err := r.storeLayers(ctx, obs, patch, nativeRasters, sr); err != nil {
		return outcome{}, err
	}
	if r.job.Params.RadarOverlay() {
		if err := r.storeRadarOverlay(ctx, obs); err != nil {
			return outcome{}, err
		}
	}
	if err := r.checkNDVIDrop(ctx, obs); err != nil {
		return outcome{}, err
	}

	var provider interface{}
	if sr.requested {
		provider = r.srProvider
	}
	return outcome{status: models.JobSucceeded, result: models.JobResult{
		"scene_id":                   r.scene.SceneID,
		"cloud_cover":                r.scene.CloudCover,
		"valid_pixel_ratio":          validRatio,
		"native_indices":             indices.SortedNames(nativeRasters),
		"sr_indices":                 indices.SortedNames(sr.rasters),
		"sr_provider":                provider,
		"sr_requested":               sr.requested,
		"sr_analytics_enabled":       sr.analytics,
		"sr_visualization_generated": len(sr.bands) > 0,
	}}, nil
}

func (r *run) skipLowQuality(ctx context.Context, cloud, validRatio float64) (outcome, error) {
	q := r.quality
	if err := r.db.Observations.Create(ctx, r.observation(models.ObservationLowQualitySkipped, validRatio)); err != nil {
		return outcome{}, err
	}
	err := r.alert(ctx, models.AlertLowQualitySkipped,
		fmt.Sprintf("Scene skipped: cloud=%.2f%% (max=%.2f%%), valid_pixels=%.3f (min=%.3f).",
			cloud, q.CloudCapPercent, validRatio, q.MinValidPixelRatio),
		map[string]interface{}{
			"cloud_cover":           cloud,
			"cloud_cap_percent":     q.CloudCapPercent,
			"valid_pixel_ratio":     validRatio,
			"min_valid_pixel_ratio": q.MinValidPixelRatio,
		})
	if err != nil {
		return outcome{}, err
	}
	r.logger.Info("scene skipped for quality", "cloud_cover", cloud, "valid_pixel_ratio", validRatio)
	return outcome{status: models.JobSkipped, result: models.JobResult{
		"status":            models.ReasonLowQualitySkipped,
		"cloud_cover":       cloud,
		"valid_pixel_ratio": validRatio,
		"scene_id":          r.scene.SceneID,
	}}, nil
}

// srOutput is what the SR branch contributes to a run.
type srOutput struct {
	requested  bool
	analytics  bool
	profileID  *int64
	bands      map[string]*raster.Grid
	rasters    map[string]*raster.Grid
	stats      models.IndexSet
	transform  raster.Affine
	resolution float64
}

// superResolve runs the SR branch. Every failure is downgraded to a WARN
// alert so native results are kept.
func (r *run) superResolve(ctx context.Context, patch *raster.Patch) srOutput {
	out := srOutput{
		requested:  r.job.Params.IncludeSR,
		stats:      models.IndexSet{},
		transform:  patch.Transform,
		resolution: defaultSRResolutionM,
	}
	if !out.requested {
		return out
	}

	enabled, err := r.flags.IsEnabled(ctx, r.parcel.OrganizationID, models.FlagSRAnalytics)
	if err != nil {
		r.logger.Warn("feature flag lookup failed", "error", err)
	}
	out.analytics = enabled

	if err := r.generateSR(ctx, patch, &out); err != nil {
		out.bands, out.rasters, out.stats = nil, nil, models.IndexSet{}
		out.transform = patch.Transform
		r.logger.Warn("SR inference failed", "provider", r.srProvider, "error", err)
		alertErr := r.alert(ctx, models.AlertSRInferenceFailed,
			"SR inference failed; native analytics were kept.",
			map[string]interface{}{"provider": r.srProvider, "error": err.Error()})
		if alertErr != nil {
			r.logger.Error("failed to record SR alert", "error", alertErr)
		}
	}
	return out
}

func (r *run) generateSR(ctx context.Context, patch *raster.Patch, out *srOutput) error {
	if r.newEngine == nil {
		return apperr.New(apperr.CodeSRInference, "SR provider is not configured")
	}
	engine, err := r.newEngine()
	if err != nil {
		return err
	}
	caps := engine.Capabilities()
	if caps.ScaleFactor > 0 {
		out.resolution = nativeResolutionM / float64(caps.ScaleFactor)
	}

	profile, err := r.db.Profiles.Ensure(ctx, models.SRModelProfile{
		Name:           caps.ModelName,
		Version:        caps.Version,
		SupportedBands: sortedCopy(caps.SupportedBands),
		ScaleFactor:    float64(caps.ScaleFactor),
		RuntimeClass:   caps.RuntimeClass,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeSRInference, err, "failed to register SR model profile")
	}
	out.profileID = &profile.ID

	bands, err := engine.Generate(ctx, superres.Request{
		AcquisitionDate: r.scene.AcquiredAt,
		AOI:             r.parcel.Geometry,
		NativeBands:     patch.Bands,
		SourceAssets:    r.scene.Assets,
	})
	if err != nil {
		return err
	}
	if len(bands) == 0 {
		return nil
	}

	var first *raster.Grid
	for _, g := range bands {
		if first == nil {
			first = g
		} else if !g.SameShape(first) {
			return apperr.New(apperr.CodeSRInference, "SR bands have different shapes")
		}
	}
	out.bands = bands
	out.transform = rescaledTransform(patch.Transform, patch.Width(), patch.Height(), first.Width, first.Height)

	if out.analytics {
		mask := raster.RepeatMask(patch.Valid, first.Width, first.Height)
		allowed := map[string]bool{}
		for _, name := range indices.AvailableIndices(keys(bands)) {
			allowed[name] = true
		}
		rasters, _ := indices.Compute(bands, mask)
		out.rasters = map[string]*raster.Grid{}
		for name, g := range rasters {
			if allowed[name] {
				out.rasters[name] = g
			}
		}
		out.stats = indices.Summaries(out.rasters)
	}
	return nil
}

// rescaledTransform keeps the origin and scales the pixel size so that the
// dst grid covers the same extent as the src grid.
func rescaledTransform(t raster.Affine, srcW, srcH, dstW, dstH int) raster.Affine {
	if (srcW == dstW && srcH == dstH) || dstW <= 0 || dstH <= 0 {
		return t
	}
	return t.Scale(float64(srcW)/float64(dstW), float64(srcH)/float64(dstH))
}

func (r *run) storeLayers(ctx context.Context, obs *models.Observation, patch *raster.Patch, native map[string]*raster.Grid, sr srOutput) error {
	for _, name := range indices.SortedNames(native) {
		l := layerSpec{layerType: models.LayerNativeIndex, index: name, grids: []*raster.Grid{native[name]},
			transform: patch.Transform, resolution: nativeResolutionM}
		if err := r.storeLayer(ctx, obs, patch.EPSG, l); err != nil {
			return err
		}
	}
	if rgb, ok := trueColor(patch.Bands); ok {
		l := layerSpec{layerType: models.LayerRGB, grids: rgb, transform: patch.Transform, resolution: nativeResolutionM}
		if err := r.storeLayer(ctx, obs, patch.EPSG, l); err != nil {
			return err
		}
	}

	for _, name := range indices.SortedNames(sr.rasters) {
		l := layerSpec{layerType: models.LayerSRIndex, index: name, grids: []*raster.Grid{sr.rasters[name]},
			transform: sr.transform, derived: true, resolution: sr.resolution}
		if err := r.storeLayer(ctx, obs, patch.EPSG, l); err != nil {
			return err
		}
	}
	if rgb, ok := trueColor(sr.bands); ok {
		l := layerSpec{layerType: models.LayerRGB, grids: rgb, transform: sr.transform, derived: true, resolution: sr.resolution}
		if err := r.storeLayer(ctx, obs, patch.EPSG, l); err != nil {
			return err
		}
	}
	return nil
}

type layerSpec struct {
	layerType  string
	index      string
	grids      []*raster.Grid
	transform  raster.Affine
	derived    bool
	resolution float64
}

func trueColor(bands map[string]*raster.Grid) ([]*raster.Grid, bool) {
	red, okR := bands["B04"]
	green, okG := bands["B03"]
	blue, okB := bands["B02"]
	if !okR || !okG || !okB {
		return nil, false
	}
	return []*raster.Grid{red, green, blue}, true
}

func (r *run) storeLayer(ctx context.Context, obs *models.Observation, epsg int, l layerSpec) error {
	payload, err := raster.EncodeBytes(l.grids, l.transform, epsg, raster.DefaultNoData)
	if err != nil {
		return fmt.Errorf("failed to encode layer: %w", err)
	}

	family, provenance := "native", "NATIVE"
	if l.derived {
		family, provenance = "sr", "MODEL_DERIVED"
	}
	name := "rgb"
	if l.index != "" {
		name = strings.ToLower(l.index)
	}
	key := storage.BuildObjectKey(
		fmt.Sprintf("layers/%d/%d/%s", r.parcel.ID, obs.ID, family),
		name+"-"+uuid.NewString(),
		"tif",
	)
	uri, err := r.objects.Upload(ctx, key, payload, "image/tiff")
	if err != nil {
		return err
	}

	metadata := map[string]interface{}{
		"scene_id":           r.scene.SceneID,
		"label":              provenance,
		"provenance":         provenance,
		"resolution_m":       l.resolution,
		"pixel_size_m":       r.pixelSizeM(l.transform, epsg),
		"required_bands_met": true,
		"quality_status":     "OK",
	}
	if l.index != "" {
		metadata["index"] = l.index
	} else {
		metadata["visualization"] = "TRUE_COLOR"
	}

	layer := &models.LayerAsset{
		ParcelID:       r.parcel.ID,
		ObservationID:  &obs.ID,
		LayerType:      l.layerType,
		IndexName:      l.index,
		SourceURI:      uri,
		IsModelDerived: l.derived,
		Metadata:       metadata,
	}
	if err := r.db.Layers.Create(ctx, layer); err != nil {
		return err
	}
	return r.db.Layers.SetTileJSONURL(ctx, layer.ID, fmt.Sprintf("/api/v1/tiles/%d", layer.ID))
}

// pixelSizeM is the ground size of one layer pixel. Geographic grids are
// measured at the parcel centre.
func (r *run) pixelSizeM(t raster.Affine, epsg int) float64 {
	w, h := t.PixelSize()
	if epsg == 4326 {
		w, h = spatial.GroundPixelSize(spatial.Centroid(r.parcel.Geometry), w, h)
	}
	return math.Round(max(w, h)*100) / 100
}

func (r *run) storeRadarOverlay(ctx context.Context, obs *models.Observation) error {
	center := r.scene.AcquiredAt.UTC().Truncate(24 * time.Hour)
	maxCloud := radarMaxCloud
	scenes, err := r.catalog.Search(ctx, r.parcel.Geometry, center.Add(-radarWindow), center.Add(radarWindow),
		&maxCloud, models.CollectionSentinel1)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return nil
	}

	radar := scenes[0]
	source := radar.Assets["visual"]
	if source == "" {
		source = radar.Assets["vv"]
	}
	if source == "" {
		for _, name := range sortedKeys(radar.Assets) {
			source = radar.Assets[name]
			break
		}
	}
	return r.db.Layers.Create(ctx, &models.LayerAsset{
		ParcelID:      r.parcel.ID,
		ObservationID: &obs.ID,
		LayerType:     models.LayerRadar,
		SourceURI:     source,
		Metadata: map[string]interface{}{
			"scene_id":     radar.SceneID,
			"collection":   radar.Collection,
			"overlay_type": "SENTINEL1_RTC",
		},
	})
}
