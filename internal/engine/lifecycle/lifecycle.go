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

// Package lifecycle records the append-only engine event trail (spec
// §4.7): group_start, group_end, item_start, item_end, item_failed,
// step_start, step_end, step_failed. Each event is appended through the
// store the Recorder was built with, as its own write after the state
// change it observes; it is not part of that state change's transaction.
package lifecycle

import (
	"context"
	"time"

	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/store"
)

// Recorder writes typed LifecycleHistory rows, so call sites name the
// event kind through a method instead of assembling the struct by hand.
type Recorder struct {
	store store.LifecycleStore
}

// NewRecorder returns a Recorder writing through s.
func NewRecorder(s store.LifecycleStore) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) append(ctx context.Context, kind model.LifecycleEventKind, groupID int64, runID, stepID *int64, status, message string, metadata map[string]any) error {
	return r.store.AppendEvent(ctx, &model.LifecycleHistory{
		EventKind: kind,
		GroupID:   groupID,
		RunID:     runID,
		StepID:    stepID,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
}

// GroupStart records a RunGroup's transition to RUNNING.
func (r *Recorder) GroupStart(ctx context.Context, groupID int64) error {
	return r.append(ctx, model.EventGroupStart, groupID, nil, nil, string(model.GroupRunning), "", nil)
}

// GroupEnd records a RunGroup reaching a terminal or ERROR status.
func (r *Recorder) GroupEnd(ctx context.Context, groupID int64, status model.GroupStatus, message string) error {
	return r.append(ctx, model.EventGroupEnd, groupID, nil, nil, string(status), message, nil)
}

// ItemStart records a WorkflowRun (one ingested document, one "item" in
// the group) starting its first step.
func (r *Recorder) ItemStart(ctx context.Context, groupID, runID int64) error {
	rid := runID
	return r.append(ctx, model.EventItemStart, groupID, &rid, nil, string(model.RunRunning), "", nil)
}

// ItemEnd records a WorkflowRun completing successfully.
func (r *Recorder) ItemEnd(ctx context.Context, groupID, runID int64) error {
	rid := runID
	return r.append(ctx, model.EventItemEnd, groupID, &rid, nil, string(model.RunCompleted), "", nil)
}

// ItemFailed records a WorkflowRun reaching FAILED.
func (r *Recorder) ItemFailed(ctx context.Context, groupID, runID int64, message string) error {
	rid := runID
	return r.append(ctx, model.EventItemFailed, groupID, &rid, nil, string(model.RunFailed), message, nil)
}

// StepStart records a RunStep being claimed.
func (r *Recorder) StepStart(ctx context.Context, groupID, runID, stepID int64, workerID string) error {
	rid, sid := runID, stepID
	return r.append(ctx, model.EventStepStart, groupID, &rid, &sid, string(model.StepRunning), "", map[string]any{"worker_id": workerID})
}

// StepEnd records a RunStep completing successfully, with its handler
// metadata attached.
func (r *Recorder) StepEnd(ctx context.Context, groupID, runID, stepID int64, metadata map[string]any) error {
	rid, sid := runID, stepID
	return r.append(ctx, model.EventStepEnd, groupID, &rid, &sid, string(model.StepCompleted), "", metadata)
}

// StepFailed records a RunStep transitioning to ERROR (retry scheduled)
// or FAILED (terminal) or being reclaimed from a stale worker.
func (r *Recorder) StepFailed(ctx context.Context, groupID, runID, stepID int64, terminal bool, message string) error {
	rid, sid := runID, stepID
	status := string(model.StepError)
	if terminal {
		status = string(model.StepFailed)
	}
	return r.append(ctx, model.EventStepFailed, groupID, &rid, &sid, status, message, nil)
}

// History returns the event trail for a group in start-time order, the
// order the UI and reporting surfaces consume it in.
func (r *Recorder) History(ctx context.Context, groupID int64) ([]*model.LifecycleHistory, error) {
	return r.store.ListEventsForGroup(ctx, groupID)
}
