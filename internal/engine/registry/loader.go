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

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// workflowFile is the on-disk YAML shape of a workflow definition.
type workflowFile struct {
	ID    string             `yaml:"id"`
	Name  string             `yaml:"name"`
	Steps []stepDefFile      `yaml:"steps"`
}

type stepDefFile struct {
	Name         string         `yaml:"name"`
	StepType     string         `yaml:"step_type"`
	HandlerRef   string         `yaml:"handler_ref"`
	RetryLimit   *int           `yaml:"retry_limit,omitempty"`
	StaticParams map[string]any `yaml:"static_params,omitempty"`
}

// parameterSetFile is the on-disk YAML shape of a parameter set.
type parameterSetFile struct {
	ID    string                    `yaml:"id"`
	Name  string                    `yaml:"name"`
	Steps map[string]map[string]any `yaml:"steps"`
}

// Load reads the *.workflow.yaml/yml files of the built-in and user
// workflow directories and the *.params.yaml/yml files of the built-in
// and user param directories; other files are ignored (spec.md §6's
// separate "workflow directory"/"parameter directory" config keys) and
// replaces the registry's contents in one atomic swap. Entries under
// builtinWorkflowDir/builtinParamDir are tagged model.OriginBuiltIn,
// entries under userWorkflowDir/userParamDir model.OriginUser. An id
// collision between built-in and user is a hard error (spec §4.3).
func (r *Registry) Load(builtinWorkflowDir, builtinParamDir, userWorkflowDir, userParamDir string) error {
	builtinWorkflows, _, err := loadDir(builtinWorkflowDir, model.OriginBuiltIn)
	if err != nil {
		return err
	}
	_, builtinParams, err := loadDir(builtinParamDir, model.OriginBuiltIn)
	if err != nil {
		return err
	}
	userWorkflows, _, err := loadDir(userWorkflowDir, model.OriginUser)
	if err != nil {
		return err
	}
	_, userParams, err := loadDir(userParamDir, model.OriginUser)
	if err != nil {
		return err
	}

	workflows := make(map[string]*model.WorkflowDefinition, len(builtinWorkflows)+len(userWorkflows))
	for id, wf := range builtinWorkflows {
		workflows[id] = wf
	}
	for id, wf := range userWorkflows {
		if _, exists := workflows[id]; exists {
			return &ingestererrors.ConflictError{
				Resource: "workflow",
				ID:       id,
				Reason:   "defined in both the built-in and user directories",
			}
		}
		workflows[id] = wf
	}

	params := make(map[string]*model.ParameterSet, len(builtinParams)+len(userParams))
	for id, ps := range builtinParams {
		params[id] = ps
	}
	for id, ps := range userParams {
		if _, exists := params[id]; exists {
			return &ingestererrors.ConflictError{
				Resource: "parameter_set",
				ID:       id,
				Reason:   "defined in both the built-in and user directories",
			}
		}
		params[id] = ps
	}

	r.replaceAll(workflows, params)
	return nil
}

// loadDir scans dir for *.workflow.yaml and *.params.yaml files (any other
// extension is ignored) and parses each into the matching entity, tagged
// with origin. A missing directory is not an error: deployments may run
// with no user directory configured yet.
func loadDir(dir string, origin model.Origin) (map[string]*model.WorkflowDefinition, map[string]*model.ParameterSet, error) {
	workflows := make(map[string]*model.WorkflowDefinition)
	params := make(map[string]*model.ParameterSet)

	if dir == "" {
		return workflows, params, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return workflows, params, nil
	}
	if err != nil {
		return nil, nil, ingestererrors.Wrapf(err, "reading registry directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".workflow.yaml") || strings.HasSuffix(name, ".workflow.yml"):
			wf, err := parseWorkflowFile(path, origin)
			if err != nil {
				return nil, nil, err
			}
			if _, exists := workflows[wf.ID]; exists {
				return nil, nil, &ingestererrors.ConflictError{Resource: "workflow", ID: wf.ID, Reason: "duplicate id within " + dir}
			}
			workflows[wf.ID] = wf
		case strings.HasSuffix(name, ".params.yaml") || strings.HasSuffix(name, ".params.yml"):
			ps, err := parseParameterSetFile(path, origin)
			if err != nil {
				return nil, nil, err
			}
			if _, exists := params[ps.ID]; exists {
				return nil, nil, &ingestererrors.ConflictError{Resource: "parameter_set", ID: ps.ID, Reason: "duplicate id within " + dir}
			}
			params[ps.ID] = ps
		}
	}
	return workflows, params, nil
}

func parseWorkflowFile(path string, origin model.Origin) (*model.WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "reading workflow definition %s", path)
	}
	var wf workflowFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, &ingestererrors.ValidationError{Field: path, Message: fmt.Sprintf("invalid workflow YAML: %v", err)}
	}
	if wf.ID == "" {
		return nil, &ingestererrors.ValidationError{Field: path, Message: "workflow definition missing id"}
	}

	steps := make([]model.StepDefinition, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		steps = append(steps, model.StepDefinition{
			Name:         s.Name,
			StepType:     model.StepType(s.StepType),
			HandlerRef:   s.HandlerRef,
			RetryLimit:   s.RetryLimit,
			StaticParams: s.StaticParams,
		})
	}

	return &model.WorkflowDefinition{
		ID:      wf.ID,
		Name:    wf.Name,
		Origin:  origin,
		RawBody: string(raw),
		Steps:   steps,
	}, nil
}

func parseParameterSetFile(path string, origin model.Origin) (*model.ParameterSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "reading parameter set %s", path)
	}
	var ps parameterSetFile
	if err := yaml.Unmarshal(raw, &ps); err != nil {
		return nil, &ingestererrors.ValidationError{Field: path, Message: fmt.Sprintf("invalid parameter set YAML: %v", err)}
	}
	if ps.ID == "" {
		return nil, &ingestererrors.ValidationError{Field: path, Message: "parameter set missing id"}
	}

	return &model.ParameterSet{
		ID:      ps.ID,
		Name:    ps.Name,
		Origin:  origin,
		RawBody: string(raw),
		Steps:   ps.Steps,
	}, nil
}
