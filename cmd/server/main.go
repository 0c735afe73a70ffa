package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/api"
	"github.com/jengzang/fieldscan-backend-go/internal/app"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/database"
	"github.com/jengzang/fieldscan-backend-go/internal/handler"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := app.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if version, dirty, err := database.MigrateVersion(db); err == nil {
		logger.Info("database ready", "path", cfg.DBPath, "schema_version", version, "dirty", dirty)
	}

	objects, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}

	repos := app.NewRepositories(db)
	flags := service.NewFeatureFlagService(repos.Flags, cfg)
	runners, err := app.Runners(ctx, cfg, repos, objects, flags, logger)
	if err != nil {
		return err
	}

	dispatcher := service.NewDispatcher(runners, cfg.WorkerConcurrency, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	scheduler := service.NewScheduler(service.SchedulerDeps{
		Parcels:    repos.Parcels,
		Jobs:       repos.Jobs,
		Exports:    repos.Exports,
		Dispatcher: dispatcher,
		StaleAfter: cfg.StaleJobAfter,
		Logger:     logger,
	})
	if _, err := scheduler.ReconcileStale(ctx); err != nil {
		return err
	}
	go func() {
		// Submit blocks on a full queue, so a large backlog must not delay serving
		resumed, err := scheduler.Resume(ctx)
		if err != nil {
			logger.Error("failed to resume queued jobs", "error", err)
			return
		}
		logger.Info("queued jobs resumed", "count", resumed)
		scheduler.Run(ctx, cfg.SchedulerInterval)
	}()

	parcels := service.NewParcelService(repos.Parcels, cfg.Quality.MaxParcelAreaHa)
	layers := service.NewLayerService(repos.Layers, parcels, objects, cfg.TilerURL)
	jobs := service.NewJobService(parcels, repos.Jobs, repos.Exports, dispatcher)

	// 初始化路由
	router := api.SetupRouter(cfg, api.Handlers{
		Parcels: handler.NewParcelHandler(parcels),
		Jobs:    handler.NewJobHandler(jobs, layers),
		Layers:  handler.NewLayerHandler(layers),
		Alerts:  handler.NewAlertHandler(service.NewAlertService(repos.Alerts), flags),
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// 启动服务器
		logger.Info("server starting", "addr", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
