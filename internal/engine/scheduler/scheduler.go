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

// Package scheduler implements the claim/advance state machine that is
// the heart of the engine (spec §4.5): claiming eligible PENDING steps,
// advancing a terminated step to the next step or to a run/group
// completion, retrying transient failures with backoff, and failing
// permanently on fatal errors or exhausted retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/internal/engine/lifecycle"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/registry"
	"github.com/soliplex/ingester/internal/engine/store"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Store is the narrow slice of store.Store the scheduler needs.
type Store interface {
	store.ClaimStore
	store.StepStore
	store.RunStore
	store.GroupStore
	store.BatchStore
	store.StepConfigStore
	store.WorkerCheckinStore
}

// MetricsRecorder receives claim/advance events for the engine's
// Prometheus instruments. Defined locally so scheduler does not import
// internal/metrics; *metrics.Collector satisfies it.
type MetricsRecorder interface {
	StepClaimed(ctx context.Context, handlerRef string)
	StepCompleted(ctx context.Context, handlerRef string, durationSeconds float64)
	StepRetried(ctx context.Context, handlerRef string)
	StepFailed(ctx context.Context, handlerRef string, durationSeconds float64)
}

type noopMetrics struct{}

func (noopMetrics) StepClaimed(context.Context, string)                {}
func (noopMetrics) StepCompleted(context.Context, string, float64)     {}
func (noopMetrics) StepRetried(context.Context, string)                {}
func (noopMetrics) StepFailed(context.Context, string, float64)        {}

// Scheduler runs the claim/advance state machine over a Store.
type Scheduler struct {
	store      Store
	registry   *registry.Registry
	lifecycle  *lifecycle.Recorder
	backoff    Backoff
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBackoff overrides the default backoff schedule.
func WithBackoff(b Backoff) Option {
	return func(s *Scheduler) { s.backoff = b }
}

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records claim/complete/retry/fail events to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New returns a Scheduler over st, resolving next-step definitions
// through reg and recording transitions through rec.
func New(st Store, reg *registry.Registry, rec *lifecycle.Recorder, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		registry:  reg,
		lifecycle: rec,
		backoff:   DefaultBackoff(),
		logger:    slog.Default().With(slog.String("component", "scheduler")),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim selects up to limit eligible steps for workerID (spec §4.5.a)
// and, for any step-1 claims, transitions the owning run and group to
// RUNNING if they are still PENDING.
func (s *Scheduler) Claim(ctx context.Context, workerID string, limit int) ([]*model.RunStep, error) {
	steps, err := s.store.ClaimSteps(ctx, workerID, limit)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		s.metrics.StepClaimed(ctx, step.HandlerRef)
		if err := s.onClaimed(ctx, step, workerID); err != nil {
			s.logger.Error("post-claim bookkeeping failed", "step_id", step.ID, "error", err)
		}
	}
	return steps, nil
}

// stepAge reports how long step has been RUNNING, for duration metrics;
// zero if it was never started (shouldn't happen for a completing step).
func stepAge(step *model.RunStep) float64 {
	if step.StartedAt == nil {
		return 0
	}
	return time.Since(*step.StartedAt).Seconds()
}

func (s *Scheduler) onClaimed(ctx context.Context, step *model.RunStep, workerID string) error {
	run, err := s.store.GetRun(ctx, step.RunID)
	if err != nil {
		return err
	}
	if step.StepNumber == 1 && run.Status == model.RunPending {
		if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunRunning, "", nil, nil); err != nil {
			return err
		}
		if err := s.lifecycle.ItemStart(ctx, run.GroupID, run.ID); err != nil {
			return err
		}
		if err := s.maybeStartGroup(ctx, run.GroupID); err != nil {
			return err
		}
	}
	return s.lifecycle.StepStart(ctx, run.GroupID, run.ID, step.ID, workerID)
}

func (s *Scheduler) maybeStartGroup(ctx context.Context, groupID int64) error {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status != model.GroupPending {
		return nil
	}
	if err := s.store.UpdateGroupStatus(ctx, groupID, model.GroupRunning, "", nil); err != nil {
		return err
	}
	return s.lifecycle.GroupStart(ctx, groupID)
}

// Complete advances a step that finished successfully, inserting the
// next step (spec §4.5 advance rule 1) or completing the run and,
// transitively, the group and batch (advance rule 2).
func (s *Scheduler) Complete(ctx context.Context, step *model.RunStep, metadata map[string]any) error {
	run, err := s.store.GetRun(ctx, step.RunID)
	if err != nil {
		return err
	}

	if !step.IsLast {
		next, err := s.buildNextStep(ctx, run, step)
		if err != nil {
			return err
		}
		if err := s.store.CompleteStep(ctx, step.ID, next); err != nil {
			return err
		}
		s.metrics.StepCompleted(ctx, step.HandlerRef, stepAge(step))
		return s.lifecycle.StepEnd(ctx, run.GroupID, run.ID, step.ID, metadata)
	}

	if err := s.store.CompleteStep(ctx, step.ID, nil); err != nil {
		return err
	}
	s.metrics.StepCompleted(ctx, step.HandlerRef, stepAge(step))
	if err := s.lifecycle.StepEnd(ctx, run.GroupID, run.ID, step.ID, metadata); err != nil {
		return err
	}

	now := time.Now()
	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunCompleted, "", nil, &now); err != nil {
		return err
	}
	if err := s.lifecycle.ItemEnd(ctx, run.GroupID, run.ID); err != nil {
		return err
	}
	return s.maybeCompleteGroup(ctx, run.GroupID)
}

// buildNextStep materializes the RunStep and StepConfig for the step
// after cur, from the run's workflow definition and the parameter set of
// the run's group: the
// cumulative config snapshot is the prior cumulative config merged with
// this step's own config (spec §4.5 advance rule 1).
func (s *Scheduler) buildNextStep(ctx context.Context, run *model.WorkflowRun, cur *model.RunStep) (*model.RunStep, error) {
	wf, err := s.registry.GetWorkflow(run.WorkflowID)
	if err != nil {
		return nil, &ingestererrors.EngineInvariantError{
			Invariant: "workflow-definition-resolvable",
			Detail:    fmt.Sprintf("run %d references unknown workflow %q: %v", run.ID, run.WorkflowID, err),
		}
	}
	nextIdx := cur.StepNumber // 0-based index of the next step (StepNumber is 1-based)
	if nextIdx >= len(wf.Steps) {
		return nil, &ingestererrors.EngineInvariantError{
			Invariant: "is-last-step-flag-consistent",
			Detail:    fmt.Sprintf("run %d step %d marked not-last but workflow %q has no step %d", run.ID, cur.StepNumber, run.WorkflowID, cur.StepNumber+1),
		}
	}
	def := wf.Steps[nextIdx]

	curCfg, err := s.store.GetStepConfig(ctx, cur.StepConfigID)
	if err != nil {
		return nil, err
	}

	stepOptions := map[string]any{}
	for k, v := range def.StaticParams {
		stepOptions[k] = v
	}
	group, err := s.store.GetGroup(ctx, run.GroupID)
	if err != nil {
		return nil, err
	}
	if ps, err := s.registry.GetParameterSet(group.ParameterSetID); err == nil {
		if stepParams, ok := ps.Steps[def.Name]; ok {
			for k, v := range stepParams {
				stepOptions[k] = v
			}
		}
	}

	cumulative := make(map[string]any, len(curCfg.CumulativeConfig)+len(stepOptions))
	for k, v := range curCfg.CumulativeConfig {
		cumulative[k] = v
	}
	for k, v := range stepOptions {
		cumulative[k] = v
	}

	cfg := &model.StepConfig{
		StepType:         def.StepType,
		Config:           stepOptions,
		CumulativeConfig: cumulative,
		CreatedAt:        time.Now(),
	}
	cfgID, err := s.store.CreateStepConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retryLimit := defaultRetryLimit
	if def.RetryLimit != nil {
		retryLimit = *def.RetryLimit
	}

	return &model.RunStep{
		RunID:        run.ID,
		StepNumber:   cur.StepNumber + 1,
		StepName:     def.Name,
		StepType:     def.StepType,
		HandlerRef:   def.HandlerRef,
		StepConfigID: cfgID,
		IsLast:       nextIdx == len(wf.Steps)-1,
		RetryLimit:   retryLimit,
		Status:       model.StepPending,
		CreatedAt:    time.Now(),
	}, nil
}

// defaultRetryLimit applies when a StepDefinition does not set its own.
const defaultRetryLimit = 3

// Fail advances a step that returned an error from its handler,
// classifying it per spec §4.5 advance rules 3 and 4: a RetryableError
// with retries remaining goes back to PENDING after backoff; anything
// else (FatalError, or a RetryableError with no retries left) goes to
// FAILED and fails the owning run.
func (s *Scheduler) Fail(ctx context.Context, step *model.RunStep, cause error) error {
	run, err := s.store.GetRun(ctx, step.RunID)
	if err != nil {
		return err
	}

	if isRetryable(cause) && step.Retry < step.RetryLimit {
		notBefore := time.Now().Add(s.backoff.Delay(step.Retry + 1))
		if err := s.store.RetryStep(ctx, step.ID, notBefore, cause.Error()); err != nil {
			return err
		}
		s.metrics.StepRetried(ctx, step.HandlerRef)
		return s.lifecycle.StepFailed(ctx, run.GroupID, run.ID, step.ID, false, cause.Error())
	}

	if err := s.store.FailStep(ctx, step.ID, cause.Error()); err != nil {
		return err
	}
	s.metrics.StepFailed(ctx, step.HandlerRef, stepAge(step))
	if err := s.lifecycle.StepFailed(ctx, run.GroupID, run.ID, step.ID, true, cause.Error()); err != nil {
		return err
	}

	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunFailed, cause.Error(), nil, nil); err != nil {
		return err
	}
	if err := s.lifecycle.ItemFailed(ctx, run.GroupID, run.ID, cause.Error()); err != nil {
		return err
	}
	return s.maybeCompleteGroup(ctx, run.GroupID)
}

// maybeCompleteGroup re-evaluates group status after a run terminates,
// per spec §4.5 group lifecycle: COMPLETED when every run is COMPLETED,
// FAILED when every run is terminal and at least one FAILED, ERROR when
// at least one run has FAILED while others are still non-terminal.
func (s *Scheduler) maybeCompleteGroup(ctx context.Context, groupID int64) error {
	nonTerminal, err := s.store.CountNonTerminalRuns(ctx, groupID)
	if err != nil {
		return err
	}
	failed, err := s.store.CountFailedRuns(ctx, groupID)
	if err != nil {
		return err
	}

	switch {
	case nonTerminal == 0 && failed == 0:
		if err := s.store.UpdateGroupStatus(ctx, groupID, model.GroupCompleted, "", nil); err != nil {
			return err
		}
		if err := s.lifecycle.GroupEnd(ctx, groupID, model.GroupCompleted, ""); err != nil {
			return err
		}
		return s.completeBatchForGroup(ctx, groupID)
	case nonTerminal == 0 && failed > 0:
		if err := s.store.UpdateGroupStatus(ctx, groupID, model.GroupFailed, "", nil); err != nil {
			return err
		}
		return s.lifecycle.GroupEnd(ctx, groupID, model.GroupFailed, "")
	case failed > 0:
		return s.store.UpdateGroupStatus(ctx, groupID, model.GroupError, "", nil)
	default:
		return nil
	}
}

// completeBatchForGroup marks the owning Batch completed, per spec §4.5
// advance rule 2: "If this is the last non-terminal run in its
// RunGroup, mark the group COMPLETED and the Batch completed."
func (s *Scheduler) completeBatchForGroup(ctx context.Context, groupID int64) error {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return s.store.CompleteBatch(ctx, group.BatchID, time.Now())
}

// RecoverStale resets RUNNING steps owned by workers whose last
// check-in is older than threshold back to PENDING (spec §4.5 crash
// recovery), recording a step_failed lifecycle event for each.
func (s *Scheduler) RecoverStale(ctx context.Context, threshold time.Duration) ([]int64, error) {
	stale, err := s.store.ListStaleWorkers(ctx, threshold, time.Now())
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	reclaimed, err := s.store.ReclaimStaleSteps(ctx, stale)
	if err != nil {
		return nil, err
	}
	for _, stepID := range reclaimed {
		step, err := s.store.GetStep(ctx, stepID)
		if err != nil {
			s.logger.Error("reclaimed step vanished before lifecycle record", "step_id", stepID, "error", err)
			continue
		}
		run, err := s.store.GetRun(ctx, step.RunID)
		if err != nil {
			s.logger.Error("reclaimed step's run vanished before lifecycle record", "step_id", stepID, "error", err)
			continue
		}
		if err := s.lifecycle.StepFailed(ctx, run.GroupID, run.ID, stepID, false, "reclaimed from stale worker"); err != nil {
			s.logger.Error("lifecycle record for reclaimed step failed", "step_id", stepID, "error", err)
		}
	}
	s.logger.Warn("reclaimed steps from stale workers", "worker_count", len(stale), "step_count", len(reclaimed))
	return reclaimed, nil
}

// isRetryable reports whether cause should be treated as transient. An
// error with no classifier at all is treated as retryable: an
// unclassified failure's cause is unknown, and retrying is the safer
// default over silently failing the run.
func isRetryable(cause error) bool {
	var classifier ingestererrors.ErrorClassifier
	if errors.As(cause, &classifier) {
		return classifier.IsRetryable()
	}
	return true
}
