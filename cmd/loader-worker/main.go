// Package main runs the loader Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/nucleus/ucl-loader/internal/activities"
	"github.com/nucleus/ucl-loader/internal/config"
	"github.com/nucleus/ucl-loader/internal/logging"
	"github.com/nucleus/ucl-loader/internal/metrics"
	"github.com/nucleus/ucl-loader/internal/storageapi"
	"github.com/nucleus/ucl-loader/internal/workspace"
	"github.com/nucleus/ucl-loader/pkg/pipeline"
	"github.com/nucleus/ucl-loader/pkg/staging"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

func main() {
	cfg := config.LoadLoaderConfig()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("invalid logging configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("loader worker stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// run wires the worker and blocks until it is interrupted. Every resource
// opened here is closed before run returns.
func run(ctx context.Context, cfg *config.LoaderConfig, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting loader worker",
		zap.String("address", cfg.TemporalAddress),
		zap.String("namespace", cfg.TemporalNamespace),
		zap.String("queue", cfg.TaskQueue))

	collector := metrics.NewCollector(logging.Component(logger, "metrics"))

	storage, err := storageapi.NewClient(storageapi.Config{
		BaseURL:         cfg.StorageAPIURL,
		Token:           cfg.StorageAPIToken,
		Timeout:         cfg.StorageAPITimeout,
		RateLimit:       cfg.StorageAPIRateLimit,
		PollInterval:    cfg.JobPollInterval,
		MaxPollInterval: cfg.JobPollMaxInterval,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}

	stager, err := newStager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("set up staging: %w", err)
	}

	opts := []pipeline.RunnerOption{
		pipeline.WithStaging(stager, storage),
		pipeline.WithMetrics(collector),
		pipeline.WithLogger(logging.Component(logger, "pipeline")),
		pipeline.WithWaitConcurrency(cfg.WaitConcurrency),
	}
	if cfg.WorkspaceDatabaseURL != "" {
		ws, err := workspace.Open(ctx, cfg.WorkspaceDatabaseURL, cfg.WorkspaceBackend)
		if err != nil {
			return fmt.Errorf("connect to workspace: %w", err)
		}
		defer ws.Close()
		opts = append(opts, pipeline.WithWorkspace(ws))
	}
	runner := pipeline.NewOutputRunner(storage, opts...)

	states, err := newStateRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state repository: %w", err)
	}
	defer states.Close()

	metricsServer := serveMetrics(cfg.MetricsAddr, collector, logger)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down metrics server", zap.Error(err))
		}
	}()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("create Temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(activities.LoadRunWorkflow, workflow.RegisterOptions{Name: activities.LoadRunWorkflowName})
	w.RegisterActivity(activities.NewActivities(runner, storage, states))
	logger.Info("registered loader workflow and activities", zap.String("workflow", activities.LoadRunWorkflowName))

	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

func newStager(ctx context.Context, cfg *config.LoaderConfig) (staging.Stager, error) {
	if !cfg.UseMinio() {
		return staging.NewLocalStager(cfg.StagingRoot, cfg.StagingPrefix)
	}
	s, err := staging.NewMinioStager(staging.MinioConfig{
		EndpointURL:     cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
		Region:          cfg.MinioRegion,
		UseSSL:          cfg.MinioUseSSL,
		Bucket:          cfg.MinioBucket,
		Prefix:          cfg.StagingPrefix,
	})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStateRepository(ctx context.Context, cfg *config.LoaderConfig) (syncstate.Repository, error) {
	if cfg.StateDatabaseURL == "" {
		return syncstate.NewMemoryRepository(), nil
	}
	return syncstate.NewPostgresRepository(ctx, cfg.StateDatabaseURL)
}

func serveMetrics(addr string, collector *metrics.Collector, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/health", healthHandler)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return server
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
