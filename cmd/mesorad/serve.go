package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/config"
	"github.com/sifralabs/mesora/internal/embeddings"
	"github.com/sifralabs/mesora/internal/extraction"
	"github.com/sifralabs/mesora/internal/feedback"
	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/groundtruth"
	"github.com/sifralabs/mesora/internal/httpapi"
	"github.com/sifralabs/mesora/internal/logging"
	"github.com/sifralabs/mesora/internal/prefilter"
	"github.com/sifralabs/mesora/internal/telemetry"
	"github.com/sifralabs/mesora/internal/vectorstore"
)

// runServe initializes all dependencies and blocks until SIGINT/SIGTERM.
//
// Initialization order:
//  1. Configuration and logger
//  2. Embedding provider and vector store
//  3. Ground-truth store and finding store (sqlite)
//  4. Feedback recorder with async indexer
//  5. Finding lifecycle, prefilter engine, extraction client
//  6. HTTP server
func runServe(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting mesorad",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.New(cmd.Context(), cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Dimension: cfg.Embeddings.Dimension,
		FastEmbed: embeddings.FastEmbedConfig{
			Model:    cfg.Embeddings.Model,
			CacheDir: cfg.Embeddings.CacheDir,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer embedder.Close()

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.Int("dimension", embedder.Dimension()))

	vsConfig := cfg.VectorStore
	if vsConfig.Chromem.VectorSize == 0 {
		vsConfig.Chromem.VectorSize = embedder.Dimension()
	}
	if vsConfig.Qdrant.VectorSize == 0 {
		vsConfig.Qdrant.VectorSize = embedder.Dimension()
	}

	vs, err := vectorstore.NewStore(vsConfig, embedder, logger)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer vs.Close()

	logger.Info("vector store initialized", zap.String("provider", vsConfig.Provider))

	groundTruth, err := groundtruth.NewStore(vs, embedder.Dimension(), logger)
	if err != nil {
		return fmt.Errorf("failed to create ground-truth store: %w", err)
	}

	findings, err := finding.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open finding store: %w", err)
	}
	defer findings.Close()

	training, err := feedback.NewTrainingStore(findings.DB())
	if err != nil {
		return fmt.Errorf("failed to create training store: %w", err)
	}

	indexer, err := feedback.NewIndexer(groundTruth, cfg.Feedback.QueueSize, logger)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}
	indexer.Start()
	defer indexer.Stop()

	recorder, err := feedback.NewRecorder(groundTruth, training, indexer, logger)
	if err != nil {
		return fmt.Errorf("failed to create verdict recorder: %w", err)
	}

	lifecycle, err := finding.NewLifecycle(findings, recorder, logger)
	if err != nil {
		return fmt.Errorf("failed to create finding lifecycle: %w", err)
	}

	engine, err := prefilter.NewEngine(groundTruth, cfg.Prefilter, logger)
	if err != nil {
		return fmt.Errorf("failed to create prefilter engine: %w", err)
	}

	extractor, err := extraction.NewClient(cfg.Extraction, logger)
	if err != nil {
		return fmt.Errorf("failed to create extraction client: %w", err)
	}

	server, err := httpapi.NewServer(engine, lifecycle, findings, recorder, extractor, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
