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

package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/artifact/fsstore"
	"github.com/soliplex/ingester/internal/engine/handler"
	"github.com/soliplex/ingester/internal/engine/lifecycle"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/registry"
	"github.com/soliplex/ingester/internal/engine/scheduler"
	"github.com/soliplex/ingester/internal/engine/store/memstore"
)

// oneStepFixture wires a registry, store, scheduler, and handler registry
// with a single PENDING, single-step, claimable run.
func oneStepFixture(t *testing.T) (*memstore.Store, *scheduler.Scheduler, *handler.Registry, *model.RunStep) {
	t.Helper()
	ctx := context.Background()

	reg := registry.New()
	if err := reg.UploadWorkflow(&model.WorkflowDefinition{
		ID: "wf-one-step",
		Steps: []model.StepDefinition{
			{Name: "parse", StepType: model.StepParse, HandlerRef: "builtin.parse.text"},
		},
	}); err != nil {
		t.Fatalf("UploadWorkflow() error = %v", err)
	}

	st := memstore.New()
	batch := &model.Batch{Name: "b", SourceTag: "fixtures", StartedAt: time.Now()}
	if err := st.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	group := &model.RunGroup{WorkflowID: "wf-one-step", ParameterSetID: "", BatchID: batch.ID, Status: model.GroupPending, CreatedAt: time.Now()}
	if err := st.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	run := &model.WorkflowRun{WorkflowID: "wf-one-step", GroupID: group.ID, BatchID: batch.ID, DocumentHash: "cafef00d", Status: model.RunPending, CreatedAt: time.Now()}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	cfg := &model.StepConfig{StepType: model.StepParse, Config: map[string]any{"format": "text"}, CumulativeConfig: map[string]any{}, CreatedAt: time.Now()}
	cfgID, err := st.CreateStepConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateStepConfig() error = %v", err)
	}
	step := &model.RunStep{
		RunID: run.ID, StepNumber: 1, StepName: "parse", StepType: model.StepParse,
		HandlerRef: "builtin.parse.text", StepConfigID: cfgID, IsLast: true, RetryLimit: 3,
	}
	if err := st.CreateStep(ctx, step); err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}

	rec := lifecycle.NewRecorder(st)
	sched := scheduler.New(st, reg, rec)
	handlers := handler.NewRegistry()
	return st, sched, handlers, step
}

func TestWorker_RunClaimsAndCompletesStep(t *testing.T) {
	st, sched, handlers, step := oneStepFixture(t)

	var invoked atomic.Bool
	if err := handlers.Register("builtin.parse.text", func(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
		invoked.Store(true)
		if in.DocumentHash != "cafef00d" || in.Source != "fixtures" {
			t.Errorf("handler input = %+v, want document_hash=cafef00d source=fixtures", in)
		}
		return map[string]any{"bytes": 42}, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	cfg := DefaultConfig("worker-1", 2)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CheckinInterval = time.Hour
	w := New(cfg, st, st, sched, handlers, fsstore.New(t.TempDir(), t.TempDir()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !invoked.Load() {
		t.Fatal("handler was never invoked")
	}
	got, err := st.GetStep(context.Background(), step.ID)
	if err != nil {
		t.Fatalf("GetStep() error = %v", err)
	}
	if got.Status != model.StepCompleted {
		t.Errorf("step status = %s, want COMPLETED", got.Status)
	}
}

func TestWorker_HandlerFailureLeavesStepForRetry(t *testing.T) {
	st, sched, handlers, step := oneStepFixture(t)
	step.RetryLimit = 3

	if err := handlers.Register("builtin.parse.text", func(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
		return nil, &retryableStub{}
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	cfg := DefaultConfig("worker-1", 1)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CheckinInterval = time.Hour
	w := New(cfg, st, st, sched, handlers, fsstore.New(t.TempDir(), t.TempDir()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := st.GetStep(context.Background(), step.ID)
	if err != nil {
		t.Fatalf("GetStep() error = %v", err)
	}
	if got.Status != model.StepPending {
		t.Errorf("step status after retryable handler failure = %s, want PENDING for retry", got.Status)
	}
	if got.Retry == 0 {
		t.Error("step retry count was not incremented")
	}
}

type retryableStub struct{}

func (e *retryableStub) Error() string   { return "transient failure" }
func (e *retryableStub) ErrorType() string { return "retryable" }
func (e *retryableStub) IsRetryable() bool { return true }
