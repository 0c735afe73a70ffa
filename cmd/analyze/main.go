// Command analyze runs one queued analysis or export job in the foreground
// and prints its result.
//
//	analyze -kind analysis -job 42
//	analyze -kind export -job 7 -memory
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/jengzang/fieldscan-backend-go/internal/analysis"
	"github.com/jengzang/fieldscan-backend-go/internal/app"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/internal/storage"
)

func main() {
	kind := flag.String("kind", analysis.KindAnalysis, "job kind: analysis or export")
	jobID := flag.Int64("job", 0, "job id")
	memory := flag.Bool("memory", false, "keep outputs in memory instead of object storage")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *jobID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: analyze -kind analysis|export -job ID")
		os.Exit(2)
	}

	if err := run(logger, *kind, *jobID, *memory); err != nil {
		logger.Error("job failed", "kind", *kind, "job_id", *jobID, "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, kind string, jobID int64, memory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var objects storage.Store
	if memory || cfg.Storage.AccessKey == "" {
		logger.Warn("object storage not configured, outputs are kept in memory")
		objects = storage.NewMemoryStore(cfg.Storage.Endpoint, cfg.Storage.Bucket)
	} else {
		minio, err := storage.NewMinioStore(cfg.Storage)
		if err != nil {
			return err
		}
		if err := minio.EnsureBucket(ctx); err != nil {
			return err
		}
		objects = minio
	}

	repos := app.NewRepositories(db)
	flags := service.NewFeatureFlagService(repos.Flags, cfg)
	runners, err := app.Runners(ctx, cfg, repos, objects, flags, logger)
	if err != nil {
		return err
	}

	result, err := runners.Run(ctx, kind, jobID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
