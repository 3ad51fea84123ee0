package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archivescan/pipeline/internal/classify"
	"github.com/archivescan/pipeline/internal/common"
	"github.com/archivescan/pipeline/internal/extract"
	"github.com/archivescan/pipeline/internal/extract/openai"
	"github.com/archivescan/pipeline/internal/ingest"
	"github.com/archivescan/pipeline/internal/pipeline"
	"github.com/archivescan/pipeline/internal/record"
	"github.com/archivescan/pipeline/internal/runner"
	"github.com/archivescan/pipeline/internal/semantic"
	"github.com/archivescan/pipeline/internal/server"
	"github.com/archivescan/pipeline/internal/session"
	"github.com/archivescan/pipeline/internal/staging"
	"github.com/archivescan/pipeline/internal/table"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewManager(cfg.Sessions.StorageDir, logger)
	if err != nil {
		logger.Error("session manager", "error", err)
		os.Exit(1)
	}
	if err := sessions.ScanExisting(); err != nil {
		logger.Error("session scan", "error", err)
		os.Exit(1)
	}

	recognizer := openai.NewClient(openai.Config{
		APIKey:      cfg.Recognizer.APIKey,
		BaseURL:     cfg.Recognizer.BaseURL,
		Model:       cfg.Recognizer.Model,
		Temperature: cfg.Recognizer.Temperature,
		Timeout:     cfg.Recognizer.Timeout,
	}, logger)

	opts := pipeline.Options{
		Sessions:     sessions,
		Formatter:    ingest.NewFormatter(logger),
		Classifier:   classify.NewBatch(logger),
		Tables:       table.NewGenerator(logger),
		Collection:   cfg.Records.Collection,
		StageTimeout: cfg.Sessions.StageTimeout,
		Logger:       logger,
	}
	opts.Extractor = extract.NewAdapter(recognizer, extract.Config{
		Model:             cfg.Recognizer.Model,
		RequestsPerMinute: cfg.Recognizer.RequestsPerMinute,
	}, logger)

	if cfg.Records.DSN != "" {
		pool, err := record.Open(ctx, record.Config{
			DSN:             cfg.Records.DSN,
			MaxConns:        cfg.Records.MaxConns,
			MaxConnLifetime: cfg.Records.MaxConnLifetime,
			MaxConnIdleTime: cfg.Records.MaxConnIdleTime,
			DialTimeout:     cfg.Records.DialTimeout,
		}, logger)
		if err != nil {
			logger.Error("record store", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		opts.Records = record.NewPostgresStore(pool, logger)
	} else {
		logger.Warn("DB_URL not set, database import will skip the record store")
	}

	if cfg.Semantic.BaseURL != "" {
		opts.Semantic = semantic.NewClient(semantic.Config{
			BaseURL:    cfg.Semantic.BaseURL,
			Collection: cfg.Semantic.Collection,
			Timeout:    cfg.Semantic.Timeout,
		}, logger)
	}

	var stagingStore *staging.Store
	if cfg.Records.StagingPath != "" {
		stagingStore, err = staging.Open(cfg.Records.StagingPath, logger)
		if err != nil {
			logger.Error("staging store", "error", err)
			os.Exit(1)
		}
		defer stagingStore.Close()
		opts.Staging = stagingStore
	}

	orchestrator := pipeline.NewOrchestrator(opts)
	run := runner.New(orchestrator, sessions, cfg.Sessions.Timeout, cfg.Sessions.SweepInterval, logger)
	run.StartSweeper(ctx)

	srv := server.New(ctx, server.Config{
		Addr:          cfg.Server.Addr,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	}, sessions, run, stagingStore, logger)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server", "error", err)
		os.Exit(1)
	}

	run.Wait()
	logger.Info("pipelined stopped")
}
