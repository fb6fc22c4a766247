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
	"fmt"

	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Plan is the ordered step preview StartWorkflows would create, without
// writing any row. Mirrors the teacher's runner.DryRunPlan, scaled down
// to this domain: no cost estimate (no LLM token pricing here), no
// condition evaluation (routing doesn't branch, Open Question decision
// #1).
type Plan struct {
	WorkflowID     string
	ParameterSetID string
	Steps          []PlanStep
}

// PlanStep is one step's resolved configuration, as it would be written
// into its StepConfig if the run were actually started.
type PlanStep struct {
	Name             string
	StepType         string
	HandlerRef       string
	ResolvedConfig   map[string]any
	CumulativeConfig map[string]any
}

// DryRun resolves workflowID and parameterSetID against the registry and
// returns the ordered step plan that StartWorkflows would produce for a
// single document, without creating a RunGroup, WorkflowRun, RunStep, or
// StepConfig row. Lets an operator validate a parameter set before
// committing a batch (SPEC_FULL.md §7).
func (s *Service) DryRun(workflowID, parameterSetID string) (*Plan, error) {
	wf, err := s.registry.GetWorkflow(workflowID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "resolving workflow %s", workflowID)
	}
	if len(wf.Steps) == 0 {
		return nil, &ingestererrors.ValidationError{Field: "workflow_id", Message: fmt.Sprintf("workflow %s has no steps", workflowID)}
	}
	ps, err := s.registry.GetParameterSet(parameterSetID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "resolving parameter set %s", parameterSetID)
	}

	plan := &Plan{WorkflowID: workflowID, ParameterSetID: parameterSetID, Steps: make([]PlanStep, 0, len(wf.Steps))}
	cumulative := map[string]any{}

	for _, def := range wf.Steps {
		options := map[string]any{}
		for k, v := range def.StaticParams {
			options[k] = v
		}
		if stepParams, ok := ps.Steps[def.Name]; ok {
			for k, v := range stepParams {
				options[k] = v
			}
		}
		for k, v := range options {
			cumulative[k] = v
		}

		merged := make(map[string]any, len(cumulative))
		for k, v := range cumulative {
			merged[k] = v
		}

		plan.Steps = append(plan.Steps, PlanStep{
			Name:             def.Name,
			StepType:         string(def.StepType),
			HandlerRef:       def.HandlerRef,
			ResolvedConfig:   options,
			CumulativeConfig: merged,
		})
	}

	return plan, nil
}
