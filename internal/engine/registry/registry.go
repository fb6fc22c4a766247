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

// Package registry loads workflow definitions and parameter sets from two
// configured directories, one for built-in (shipped) entries and one for
// user-uploaded entries, and exposes list/get/upload/delete over them
// (spec §4.3). Built-in entries are immutable and undeletable through the
// public surface; user entries are freely modifiable.
package registry

import (
	"sync"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Registry holds the loaded set of workflow definitions and parameter
// sets, indexed by id. All mutation goes through Upload/Delete so the
// built-in/user origin invariant is enforced in one place.
type Registry struct {
	mu sync.RWMutex

	workflows map[string]*model.WorkflowDefinition
	params    map[string]*model.ParameterSet
}

// New returns an empty Registry. Callers populate it via Load,
// UploadWorkflow or UploadParameterSet before serving traffic.
func New() *Registry {
	return &Registry{
		workflows: make(map[string]*model.WorkflowDefinition),
		params:    make(map[string]*model.ParameterSet),
	}
}

// GetWorkflow returns the workflow definition with the given id.
func (r *Registry) GetWorkflow(id string) (*model.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "workflow", ID: id}
	}
	return wf, nil
}

// ListWorkflows returns every loaded workflow definition, built-in and
// user, in no particular order.
func (r *Registry) ListWorkflows() []*model.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.WorkflowDefinition, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	return out
}

// GetParameterSet returns the parameter set with the given id.
func (r *Registry) GetParameterSet(id string) (*model.ParameterSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.params[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "parameter_set", ID: id}
	}
	return ps, nil
}

// ListParameterSets returns every loaded parameter set, built-in and user.
func (r *Registry) ListParameterSets() []*model.ParameterSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ParameterSet, 0, len(r.params))
	for _, ps := range r.params {
		out = append(out, ps)
	}
	return out
}

// UploadWorkflow adds or replaces a user-origin workflow definition. It
// refuses to shadow a built-in id, and refuses to replace an existing
// built-in entry — only user entries may be overwritten this way.
func (r *Registry) UploadWorkflow(wf *model.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.workflows[wf.ID]; ok && existing.Origin == model.OriginBuiltIn {
		return &ingestererrors.ConflictError{
			Resource: "workflow",
			ID:       wf.ID,
			Reason:   "id is reserved by a built-in definition",
		}
	}
	wf.Origin = model.OriginUser
	r.workflows[wf.ID] = wf
	return nil
}

// DeleteWorkflow removes a user-origin workflow definition. Deleting a
// built-in id is refused.
func (r *Registry) DeleteWorkflow(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[id]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "workflow", ID: id}
	}
	if wf.Origin == model.OriginBuiltIn {
		return &ingestererrors.ValidationError{
			Field:   "id",
			Message: "built-in workflow definitions cannot be deleted",
		}
	}
	delete(r.workflows, id)
	return nil
}

// UploadParameterSet adds or replaces a user-origin parameter set, with
// the same built-in protection as UploadWorkflow.
func (r *Registry) UploadParameterSet(ps *model.ParameterSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.params[ps.ID]; ok && existing.Origin == model.OriginBuiltIn {
		return &ingestererrors.ConflictError{
			Resource: "parameter_set",
			ID:       ps.ID,
			Reason:   "id is reserved by a built-in parameter set",
		}
	}
	ps.Origin = model.OriginUser
	r.params[ps.ID] = ps
	return nil
}

// DeleteParameterSet removes a user-origin parameter set.
func (r *Registry) DeleteParameterSet(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.params[id]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "parameter_set", ID: id}
	}
	if ps.Origin == model.OriginBuiltIn {
		return &ingestererrors.ValidationError{
			Field:   "id",
			Message: "built-in parameter sets cannot be deleted",
		}
	}
	delete(r.params, id)
	return nil
}

// replaceAll swaps the registry's contents for a freshly loaded set, used
// by Load (including the reloads Watch triggers). Two definitions with the same id from different
// directories (built-in vs user) is a hard load-time error, so it is
// validated before the swap, not after.
func (r *Registry) replaceAll(workflows map[string]*model.WorkflowDefinition, params map[string]*model.ParameterSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = workflows
	r.params = params
}
