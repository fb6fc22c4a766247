// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine is the facade that wires every internal/engine/*
// component into one runnable process, the way the teacher's
// internal/controller.Controller wires its own subsystems. It covers
// only this engine's component set (store, artifacts, registry,
// handlers, scheduler, lifecycle, cascade, workers, recovery, metrics)
// and leaves out the teacher's HTTP API, MCP registry, and security
// manager, which have no SPEC_FULL.md home.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/soliplex/ingester/internal/config"
	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/artifact/dbstore"
	"github.com/soliplex/ingester/internal/engine/artifact/fsstore"
	"github.com/soliplex/ingester/internal/engine/artifact/s3store"
	"github.com/soliplex/ingester/internal/engine/cascade"
	"github.com/soliplex/ingester/internal/engine/handler"
	"github.com/soliplex/ingester/internal/engine/handler/builtin"
	"github.com/soliplex/ingester/internal/engine/intake"
	"github.com/soliplex/ingester/internal/engine/lifecycle"
	"github.com/soliplex/ingester/internal/engine/registry"
	"github.com/soliplex/ingester/internal/engine/scheduler"
	"github.com/soliplex/ingester/internal/engine/store"
	"github.com/soliplex/ingester/internal/engine/store/postgres"
	"github.com/soliplex/ingester/internal/engine/store/sqlite"
	"github.com/soliplex/ingester/internal/engine/worker"
	"github.com/soliplex/ingester/internal/metrics"
	"github.com/soliplex/ingester/pkg/httpclient"
)

// Engine owns every long-lived component of an ingester process and
// the goroutines their Run loops spawn.
type Engine struct {
	cfg *config.Config

	store     store.Store
	artifacts artifact.Store
	registry  *registry.Registry
	handlers  *handler.Registry
	sched     *scheduler.Scheduler
	cascade   *cascade.Service
	intake    *intake.Service
	recoverer *Recoverer
	metrics   *metrics.Provider

	workers []*worker.Worker

	logger *slog.Logger

	closeStore func() error
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

// New builds every component from cfg but starts nothing: callers call
// Start to begin serving.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	artifacts, artifactCloser, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: building artifact store: %w", err)
	}

	st, closeStoreOnly, rawDB, err := buildStore(ctx, cfg, artifacts)
	if err != nil {
		if artifactCloser != nil {
			artifactCloser()
		}
		return nil, fmt.Errorf("engine: building persistence store: %w", err)
	}
	closeStore := func() error {
		err := closeStoreOnly()
		if artifactCloser != nil {
			artifactCloser()
		}
		return err
	}

	reg := registry.New()
	if err := reg.Load(cfg.WorkflowDir, cfg.ParameterDir, cfg.UserWorkflowDir, cfg.UserParameterDir); err != nil {
		closeStore()
		return nil, fmt.Errorf("engine: loading workflow registry: %w", err)
	}

	httpClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("engine: building collaborator HTTP client: %w", err)
	}
	handlers := handler.NewRegistry()
	if err := builtin.Register(handlers, httpClient); err != nil {
		closeStore()
		return nil, fmt.Errorf("engine: registering built-in handlers: %w", err)
	}

	rec := lifecycle.NewRecorder(st)

	metricsProvider, err := metrics.NewProvider("ingester")
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("engine: building metrics provider: %w", err)
	}

	backoff := scheduler.DefaultBackoff()
	backoff.Base = cfg.RetryBaseBackoff
	backoff.Cap = cfg.RetryCapBackoff

	sched := scheduler.New(st, reg, rec,
		scheduler.WithBackoff(backoff),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metricsProvider.Collector()),
	)

	recoverer := NewRecoverer(sched, cfg.StaleWorkerThreshold, cfg.HeartbeatInterval, rawDB, logger)

	return &Engine{
		cfg:        cfg,
		store:      st,
		artifacts:  artifacts,
		registry:   reg,
		handlers:   handlers,
		sched:      sched,
		cascade:    cascade.New(st, logger),
		intake:     intake.New(st, artifacts, reg, rec, logger),
		recoverer:  recoverer,
		metrics:    metricsProvider,
		logger:     logger,
		closeStore: closeStore,
	}, nil
}

// NewIntake builds just enough of the engine to serve the intake and
// cascade operations — store, artifacts, and registry, with no
// scheduler, handlers, or worker pool — for a short-lived CLI process
// that submits work rather than running it. The returned closer
// releases the store and artifact backend.
func NewIntake(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*intake.Service, *cascade.Service, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	artifacts, artifactCloser, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("intake: building artifact store: %w", err)
	}
	st, closeStoreOnly, _, err := buildStore(ctx, cfg, artifacts)
	if err != nil {
		if artifactCloser != nil {
			artifactCloser()
		}
		return nil, nil, nil, fmt.Errorf("intake: building persistence store: %w", err)
	}
	closeStore := func() error {
		err := closeStoreOnly()
		if artifactCloser != nil {
			artifactCloser()
		}
		return err
	}

	reg := registry.New()
	if err := reg.Load(cfg.WorkflowDir, cfg.ParameterDir, cfg.UserWorkflowDir, cfg.UserParameterDir); err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("intake: loading workflow registry: %w", err)
	}

	rec := lifecycle.NewRecorder(st)
	return intake.New(st, artifacts, reg, rec, logger), cascade.New(st, logger), closeStore, nil
}

// Cascade returns the cascading-deletion service (spec §4.8), for a
// CLI or API surface to call directly.
func (e *Engine) Cascade() *cascade.Service { return e.cascade }

// Registry returns the loaded workflow/parameter-set registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Intake returns the batch-create/ingest/start-workflows entry point
// (spec §2's data flow), for a CLI or API surface to call directly.
func (e *Engine) Intake() *intake.Service { return e.intake }

// MetricsHandler returns the Prometheus scrape handler.
func (e *Engine) MetricsHandler() http.Handler { return e.metrics.Handler() }

// Start launches the registry file watcher, the stale-worker sweep,
// and cfg.WorkerPoolSize worker processes, each with its own task pool
// of size worker.Config.Concurrency (here fixed at 1 task-pool-wide
// slot per logical worker; callers wanting more in-process concurrency
// raise WorkerPoolSize).
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.registry.Watch(ctx, e.cfg.WorkflowDir, e.cfg.ParameterDir, e.cfg.UserWorkflowDir, e.cfg.UserParameterDir, e.logger); err != nil && ctx.Err() == nil {
			e.logger.Error("registry watcher stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.recoverer.Run(ctx)
	}()

	for i := 0; i < e.cfg.WorkerPoolSize; i++ {
		// uuid, not a sequential "worker-N" label: several ingesterd
		// processes may share one postgres database (spec §6's
		// distributed worker-pool model), so worker ids must be unique
		// fleet-wide, not just within one process.
		workerID := uuid.NewString()
		wcfg := worker.DefaultConfig(workerID, 1)
		wcfg.PollInterval = e.cfg.PollInterval
		wcfg.CheckinInterval = e.cfg.HeartbeatInterval
		wcfg.DrainDeadline = e.cfg.DrainDeadline

		w := worker.New(wcfg, e.store, e.store, e.sched, e.handlers, e.artifacts, e.logger)
		e.workers = append(e.workers, w)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := w.Run(ctx); err != nil {
				e.logger.Error("worker stopped", "worker_id", workerID, "error", err)
			}
		}()
	}

	return nil
}

// Shutdown cancels every running goroutine, waits for workers to drain
// (bounded by their own DrainDeadline), and releases the store and
// metrics provider.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("shutdown deadline reached before all goroutines exited")
	}

	if err := e.metrics.Shutdown(ctx); err != nil {
		e.logger.Error("metrics provider shutdown failed", "error", err)
	}
	return e.closeStore()
}

// buildArtifactStore constructs the configured artifact.Store backend.
// The db backend opens its own *sql.DB against the same DatabaseURL the
// persistence store uses, since sql.DB pools aren't shareable across
// packages without threading one through both constructors; the
// returned closer releases it. fs and s3 return a nil closer.
func buildArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, func(), error) {
	switch cfg.ArtifactBackend {
	case config.ArtifactBackendFS:
		return fsstore.New(cfg.ArtifactRoot, cfg.ArtifactStorageRoot), nil, nil
	case config.ArtifactBackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return s3store.New(client, cfg.ArtifactRoot, cfg.ArtifactStorageRoot), nil, nil
	case config.ArtifactBackendDB:
		driver, dialect := "sqlite", dbstore.DialectSQLite
		if isPostgres(cfg.DatabaseURL) {
			driver, dialect = "pgx", dbstore.DialectPostgres
		}
		db, err := sql.Open(driver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening artifact database connection: %w", err)
		}
		return dbstore.New(db, cfg.ArtifactStorageRoot, dialect), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

// buildStore opens the persistence backend selected by cfg.DatabaseURL
// (a postgres:// URL selects store/postgres, anything else is treated
// as a sqlite file path) and wires the artifact store's deletion into
// its cascading-deletion transactions (spec §4.8). It returns the raw
// *sql.DB for postgres so the caller can build the advisory-lock-based
// recovery sweep; nil for sqlite, which has no cross-process recovery
// to serialize.
func buildStore(ctx context.Context, cfg *config.Config, artifacts artifact.Store) (store.Store, func() error, *sql.DB, error) {
	if isPostgres(cfg.DatabaseURL) {
		pgCfg := postgres.Config{ConnectionString: cfg.DatabaseURL}
		st, err := postgres.New(ctx, pgCfg, postgres.WithArtifactDeleter(artifacts.DeleteAllFor))
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st.Close, st.DB(), nil
	}

	sqliteCfg := sqlite.Config{Path: cfg.DatabaseURL, WAL: true}
	st, err := sqlite.New(ctx, sqliteCfg, sqlite.WithArtifactDeleter(artifacts.DeleteAllFor))
	if err != nil {
		return nil, nil, nil, err
	}
	return st, st.Close, nil, nil
}

func isPostgres(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}
