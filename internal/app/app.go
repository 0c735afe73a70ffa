// Package app wires the stores, runners and services shared by the server
// and the one-shot CLI.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/jengzang/fieldscan-backend-go/internal/analysis"
	"github.com/jengzang/fieldscan-backend-go/internal/catalog"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/database"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
	"github.com/jengzang/fieldscan-backend-go/internal/superres"
)

// OpenDatabase opens the sqlite database and applies pending migrations
func OpenDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, err
	}
	if err := database.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Repositories holds every store built on one database
type Repositories struct {
	Parcels      *repository.ParcelRepository
	Jobs         *repository.AnalysisJobRepository
	Exports      *repository.ExportJobRepository
	Scenes       *repository.SceneRepository
	Observations *repository.ObservationRepository
	Profiles     *repository.SRProfileRepository
	Layers       *repository.LayerRepository
	Alerts       *repository.AlertRepository
	Flags        *repository.FeatureFlagRepository
}

// NewRepositories creates the repositories
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Parcels:      repository.NewParcelRepository(db),
		Jobs:         repository.NewAnalysisJobRepository(db),
		Exports:      repository.NewExportJobRepository(db),
		Scenes:       repository.NewSceneRepository(db),
		Observations: repository.NewObservationRepository(db),
		Profiles:     repository.NewSRProfileRepository(db),
		Layers:       repository.NewLayerRepository(db),
		Alerts:       repository.NewAlertRepository(db),
		Flags:        repository.NewFeatureFlagRepository(db),
	}
}

// Stores adapts the repositories to the runner collaborators
func (r *Repositories) Stores() analysis.Stores {
	return analysis.Stores{
		Parcels:      r.Parcels,
		Jobs:         r.Jobs,
		Scenes:       r.Scenes,
		Observations: r.Observations,
		Profiles:     r.Profiles,
		Layers:       r.Layers,
		Alerts:       r.Alerts,
		Exports:      r.Exports,
	}
}

// Runners builds the registry of job runners. The catalog is probed here in
// auto mode, so ctx bounds the probe.
func Runners(ctx context.Context, cfg *config.Config, repos *Repositories, objects storage.Store, flags *service.FeatureFlagService, logger *slog.Logger) (*analysis.Registry, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	stac, err := catalog.New(ctx, cfg.Catalog, catalog.Options{HTTPClient: client, Logger: logger})
	if err != nil {
		return nil, err
	}

	// raster reads and SR calls may take far longer than catalog requests
	transfer := &http.Client{}
	newEngine := func() (superres.Engine, error) {
		return superres.New(cfg.SR, superres.Options{HTTPClient: transfer, Logger: logger})
	}

	pipeline := analysis.NewPipeline(cfg, analysis.PipelineDeps{
		Catalog:   stac,
		Patches:   raster.NewPatchReader(raster.NewOpener(transfer)),
		NewEngine: newEngine,
		Flags:     flags,
		Objects:   objects,
		Stores:    repos.Stores(),
		Logger:    logger,
	})
	exporter := analysis.NewExporter(analysis.ExporterDeps{
		Stores:     repos.Stores(),
		Objects:    objects,
		HTTPClient: transfer,
		Logger:     logger,
	})
	return analysis.NewRegistry(pipeline, exporter), nil
}
