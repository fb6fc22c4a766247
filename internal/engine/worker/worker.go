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

// Package worker implements the worker runtime (spec §4.6): a
// long-running process with a cooperative, single-threaded-per-slot
// task pool, claiming work through the scheduler and dispatching it to
// resolved handlers. Multiple worker processes run independently and
// communicate only through the persistence layer.
package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/handler"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/scheduler"
	"github.com/soliplex/ingester/internal/engine/store"
)

// Config holds the tunables from spec.md §6: pool size, poll interval,
// check-in interval, and the staleness threshold crash recovery uses.
type Config struct {
	// WorkerID identifies this process in WorkerCheckin and RunStep.worker_id.
	WorkerID string
	// Concurrency is the task pool size (INGEST_WORKER_CONCURRENCY).
	Concurrency int
	// PollInterval is slept, with jitter, when no steps were claimed.
	PollInterval time.Duration
	// CheckinInterval is the heartbeat cadence (WORKER_CHECKIN_INTERVAL).
	CheckinInterval time.Duration
	// DrainDeadline bounds how long shutdown waits for in-flight tasks.
	DrainDeadline time.Duration
}

// DefaultConfig returns spec.md's stated defaults: ~1s poll interval,
// 30s drain deadline, plus a 10s check-in interval. Concurrency has no
// universal default and is taken from the caller.
func DefaultConfig(workerID string, concurrency int) Config {
	return Config{
		WorkerID:        workerID,
		Concurrency:     concurrency,
		PollInterval:    time.Second,
		CheckinInterval: 10 * time.Second,
		DrainDeadline:   30 * time.Second,
	}
}

// Lookup is the narrow slice of store.Store the worker needs beyond the
// scheduler: resolving a claimed step's run and owning batch (for the
// identifiers a handler.Input carries) and its StepConfig (for options).
type Lookup interface {
	store.RunStore
	store.BatchStore
	store.StepConfigStore
}

// Worker runs the main loop from spec §4.6.
type Worker struct {
	cfg       Config
	checkins  store.WorkerCheckinStore
	lookup    Lookup
	sched     *scheduler.Scheduler
	handlers  *handler.Registry
	artifacts artifact.Store
	logger    *slog.Logger

	pollLimiter *rate.Limiter

	wg       sync.WaitGroup
	slots    chan struct{}
	lastSeen time.Time
}

// New returns a Worker that claims through sched, resolves each step's
// run and StepConfig through lookup, dispatches to handlers, and reads
// prior-step artifacts through artifacts.
func New(cfg Config, checkins store.WorkerCheckinStore, lookup Lookup, sched *scheduler.Scheduler, handlers *handler.Registry, artifacts artifact.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{
		cfg:         cfg,
		checkins:    checkins,
		lookup:      lookup,
		sched:       sched,
		handlers:    handlers,
		artifacts:   artifacts,
		logger:      logger.With(slog.String("component", "worker"), slog.String("worker_id", cfg.WorkerID)),
		pollLimiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		slots:       make(chan struct{}, cfg.Concurrency),
	}
}

// Run executes the main loop until ctx is cancelled, then drains
// in-flight tasks up to cfg.DrainDeadline before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "concurrency", w.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			return w.drain()
		default:
		}

		if err := w.heartbeatIfDue(ctx); err != nil {
			w.logger.Error("heartbeat failed", "error", err)
		}

		available := w.cfg.Concurrency - len(w.slots)
		if available <= 0 {
			w.waitForSlotOrPoll(ctx)
			continue
		}

		steps, err := w.sched.Claim(ctx, w.cfg.WorkerID, available)
		if err != nil {
			w.logger.Error("claim failed", "error", err)
			w.sleepPollInterval(ctx)
			continue
		}
		if len(steps) == 0 {
			w.sleepPollInterval(ctx)
			continue
		}

		for _, step := range steps {
			w.dispatch(ctx, step)
		}
	}
}

// dispatch runs one step on the task pool, blocking only long enough to
// acquire a slot — the handler itself runs in its own goroutine so the
// main loop can keep claiming up to the pool's remaining capacity.
func (w *Worker) dispatch(ctx context.Context, step *model.RunStep) {
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.execute(ctx, step)
	}()
}

// execute invokes the resolved handler and advances the step
// transactionally per spec §4.5. A cancelled context during execution
// leaves the step RUNNING for crash recovery to reclaim, per spec §4.6.
func (w *Worker) execute(ctx context.Context, step *model.RunStep) {
	in, err := w.buildInput(ctx, step)
	if err != nil {
		w.logger.Error("could not assemble handler input, leaving step RUNNING for reclaim", "step_id", step.ID, "error", err)
		return
	}

	result, err := w.handlers.Invoke(ctx, step.HandlerRef, w.artifacts, in)
	if ctx.Err() != nil {
		w.logger.Warn("step execution cancelled, leaving RUNNING for reclaim", "step_id", step.ID)
		return
	}
	if err != nil {
		if ferr := w.sched.Fail(context.Background(), step, err); ferr != nil {
			w.logger.Error("failing step after handler error also failed", "step_id", step.ID, "handler_error", err, "fail_error", ferr)
		}
		return
	}
	if cerr := w.sched.Complete(context.Background(), step, result); cerr != nil {
		w.logger.Error("completing step after handler success failed", "step_id", step.ID, "error", cerr)
	}
}

// buildInput resolves the run and its owning batch to populate the
// identifiers a handler relies on, plus the step's own StepConfig.
func (w *Worker) buildInput(ctx context.Context, step *model.RunStep) (handler.Input, error) {
	run, err := w.lookup.GetRun(ctx, step.RunID)
	if err != nil {
		return handler.Input{}, err
	}
	batch, err := w.lookup.GetBatch(ctx, run.BatchID)
	if err != nil {
		return handler.Input{}, err
	}
	cfg, err := w.lookup.GetStepConfig(ctx, step.StepConfigID)
	if err != nil {
		return handler.Input{}, err
	}
	return handler.Input{
		BatchID:      run.BatchID,
		DocumentHash: run.DocumentHash,
		Source:       batch.SourceTag,
		Config:       *cfg,
	}, nil
}

func (w *Worker) heartbeatIfDue(ctx context.Context) error {
	if time.Since(w.lastSeen) < w.cfg.CheckinInterval {
		return nil
	}
	now := time.Now()
	if err := w.checkins.Heartbeat(ctx, w.cfg.WorkerID, now); err != nil {
		return err
	}
	w.lastSeen = now
	return nil
}

// sleepPollInterval waits the configured poll interval with uniform
// jitter, or until ctx is cancelled. pollLimiter bounds the rate of
// claim attempts across the whole run, independent of the per-call
// jitter, so a flood of immediately-available work can't turn the loop
// into a busy-poll.
func (w *Worker) sleepPollInterval(ctx context.Context) {
	if err := w.pollLimiter.Wait(ctx); err != nil {
		return
	}
	jitter := time.Duration(rand.Float64() * float64(w.cfg.PollInterval) * 0.5)
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (w *Worker) waitForSlotOrPoll(ctx context.Context) {
	w.sleepPollInterval(ctx)
}

// drain stops claiming new work and waits up to cfg.DrainDeadline for
// in-flight tasks to finish before returning (spec §4.6 cancellation).
func (w *Worker) drain() error {
	w.logger.Info("draining in-flight steps", "deadline", w.cfg.DrainDeadline)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("drain complete")
	case <-time.After(w.cfg.DrainDeadline):
		w.logger.Warn("drain deadline exceeded, remaining steps left RUNNING for reclaim")
	}
	return nil
}
