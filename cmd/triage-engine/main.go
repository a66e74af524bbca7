package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reportstack/triage-engine/internal/api"
	"github.com/reportstack/triage-engine/internal/cache"
	"github.com/reportstack/triage-engine/internal/classify"
	"github.com/reportstack/triage-engine/internal/config"
	"github.com/reportstack/triage-engine/internal/dedup"
	"github.com/reportstack/triage-engine/internal/embedding"
	"github.com/reportstack/triage-engine/internal/engine"
	"github.com/reportstack/triage-engine/internal/insights"
	"github.com/reportstack/triage-engine/internal/llm"
	"github.com/reportstack/triage-engine/internal/metrics"
	"github.com/reportstack/triage-engine/internal/repo"
	"github.com/reportstack/triage-engine/internal/services"
	"github.com/reportstack/triage-engine/internal/store"
	"github.com/reportstack/triage-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting triage-engine", slog.String("address", cfg.Server.Address))

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	failureStore, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer failureStore.Close()

	cacheProvider := cache.NewMemoryProvider(cfg.Cache.MaxEntries, cfg.Cache.AnalysisTTL)

	reportClient := repo.NewReportClient(
		cfg.Reports.BaseURL,
		cfg.Reports.FailuresPath,
		cfg.Reports.Timeout,
	)

	var completer llm.Completer
	if client := llm.NewClient(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		Timeout:   cfg.LLM.Timeout,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger); client != nil {
		completer = client
	} else {
		logger.Warn("no llm api key configured, running with deterministic fallbacks only")
	}

	classifier, err := classify.NewClassifier(cfg.Classifier.PackPath, logger)
	if err != nil {
		logger.Error("failed to load classifier pack", slog.Any("error", err))
		os.Exit(1)
	}

	var embeddingProviders []embedding.Provider
	if completer != nil {
		embeddingProviders = append(embeddingProviders, embedding.NewSummaryProvider(completer))
	}
	embedder := embedding.NewGenerator(embeddingProviders, cacheProvider, cfg.Cache.EmbeddingTTL, logger)

	synthesizer := insights.NewSynthesizer(completer, logger)

	pipeline := engine.NewPipeline(
		logger,
		reportClient,
		failureStore,
		classifier,
		embedder,
		synthesizer,
		cacheProvider,
		cfg.Cache.AnalysisTTL,
	)

	deduplicator := dedup.NewDeduplicator(failureStore, logger)
	triageService := services.NewTriageService(logger, failureStore, pipeline, deduplicator)

	server := api.NewServer(cfg.Server, api.NewHandlers(triageService, logger), registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("triage-engine stopped")
}
