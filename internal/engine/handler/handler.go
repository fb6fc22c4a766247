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

// Package handler resolves a step's fully-qualified handler_ref to a
// callable, and defines the contract every handler implements (spec
// §4.4). Handlers are registered by fully-qualified name, e.g.
// "builtin.parse.pdf" or "builtin.embed.openai", and must be idempotent:
// invoking one again with the same step config must either reproduce
// the same artifact or find and reuse the one already written.
package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Input carries everything a handler needs to do its work: the
// identifiers it may use to scope side effects, and the step
// configuration (its own options plus the cumulative config of every
// step that ran before it in the run).
type Input struct {
	BatchID      int64
	DocumentHash string
	Source       string
	Config       model.StepConfig
}

// Func is the callable a handler_ref resolves to. It returns a metadata
// map recorded against the step on success, or fails with a
// *ingestererrors.RetryableError or *ingestererrors.FatalError — any
// other error is treated as retryable by the scheduler, since the
// failure mode of an un-classified error is unknown.
type Func func(ctx context.Context, artifacts artifact.Store, in Input) (map[string]any, error)

// Registry resolves fully-qualified handler references to Funcs.
// References are namespaced "namespace.name" (e.g. "builtin.chunk.fixed");
// the namespace groups related handlers the way a package groups code,
// but resolution is a flat lookup on the full string.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry returns an empty handler Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register adds a handler under ref. Re-registering the same ref
// replaces it; callers that want built-in/user separation enforce that
// at a higher layer (the registry package's workflow/parameter-set
// rules), since handler_refs are code, not configuration.
func (r *Registry) Register(ref string, fn Func) error {
	if ref == "" {
		return &ingestererrors.ValidationError{Field: "ref", Message: "handler reference cannot be empty"}
	}
	if !strings.Contains(ref, ".") {
		return &ingestererrors.ValidationError{Field: "ref", Message: fmt.Sprintf("handler reference %q must be namespaced as 'namespace.name'", ref)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ref] = fn
	return nil
}

// Resolve returns the Func registered under ref.
func (r *Registry) Resolve(ref string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[ref]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "handler", ID: ref}
	}
	return fn, nil
}

// Invoke resolves ref and calls it, wrapping resolution failures as
// FatalError: an unknown handler_ref is a workflow-definition problem,
// not a transient one, and retrying it cannot help.
func (r *Registry) Invoke(ctx context.Context, ref string, artifacts artifact.Store, in Input) (map[string]any, error) {
	fn, err := r.Resolve(ref)
	if err != nil {
		return nil, &ingestererrors.FatalError{Reason: fmt.Sprintf("unresolvable handler reference %q", ref), Cause: err}
	}
	return fn(ctx, artifacts, in)
}

// List returns every registered handler reference.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		refs = append(refs, ref)
	}
	return refs
}
