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

package intake

import (
	"context"
	"time"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Replay re-seeds step 1 of a FAILED WorkflowRun as a new sibling run in
// the same RunGroup, without re-ingesting the document (SPEC_FULL.md §7,
// mirroring the teacher's runner/replay.go). overrideParameterSetID, if
// non-empty, replaces the group's parameter set for the new run's step 1;
// otherwise the group's parameter set is used. Steps after step 1 are
// materialized by the scheduler from the group's parameter set, so the
// override does not reach them.
func (s *Service) Replay(ctx context.Context, runID int64, overrideParameterSetID string) (*model.WorkflowRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "loading run %d", runID)
	}
	if !run.Status.Terminal() || run.Status == model.RunCompleted {
		return nil, &ingestererrors.ValidationError{Field: "run_id", Message: "replay requires a FAILED run"}
	}

	group, err := s.store.GetGroup(ctx, run.GroupID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "loading group %d", run.GroupID)
	}
	parameterSetID := group.ParameterSetID
	if overrideParameterSetID != "" {
		parameterSetID = overrideParameterSetID
	}

	now := time.Now()
	replay := &model.WorkflowRun{
		WorkflowID:   run.WorkflowID,
		GroupID:      run.GroupID,
		BatchID:      run.BatchID,
		DocumentHash: run.DocumentHash,
		Priority:     run.Priority,
		Status:       model.RunPending,
		CreatedAt:    now,
	}
	if err := s.store.CreateRun(ctx, replay); err != nil {
		return nil, ingestererrors.Wrap(err, "creating replay run")
	}

	first, err := firstStep(ctx, s.store, s.registry, replay, parameterSetID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateStep(ctx, first); err != nil {
		return nil, ingestererrors.Wrapf(err, "seeding first step for replay run %d", replay.ID)
	}

	// Reopen the group if it had already gone terminal: the replay run
	// gives it a new non-terminal member.
	if group.Status == model.GroupFailed || group.Status == model.GroupCompleted {
		if err := s.store.UpdateGroupStatus(ctx, group.ID, model.GroupRunning, "", nil); err != nil {
			return nil, err
		}
	}

	return replay, nil
}
