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

package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/soliplex/ingester/internal/engine/artifact"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

func TestRegistry_RegisterRequiresNamespace(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("unnamespaced", func(ctx context.Context, a artifact.Store, in Input) (map[string]any, error) {
		return nil, nil
	}); err == nil {
		t.Fatal("Register() without a namespaced ref should error")
	}
}

func TestRegistry_ResolveAndInvoke(t *testing.T) {
	r := NewRegistry()
	called := false
	err := r.Register("builtin.enrich.noop", func(ctx context.Context, a artifact.Store, in Input) (map[string]any, error) {
		called = true
		return map[string]any{"document_hash": in.DocumentHash}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	out, err := r.Invoke(context.Background(), "builtin.enrich.noop", nil, Input{DocumentHash: "abc"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !called {
		t.Fatal("Invoke() did not call the registered handler")
	}
	if out["document_hash"] != "abc" {
		t.Errorf("Invoke() result = %v, want document_hash=abc", out)
	}
}

func TestRegistry_InvokeUnknownRefIsFatal(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "builtin.missing.handler", nil, Input{})
	if err == nil {
		t.Fatal("Invoke() of an unregistered ref should error")
	}
	var fatal *ingestererrors.FatalError
	if !errors.As(err, &fatal) {
		t.Errorf("Invoke() error = %v, want a *FatalError", err)
	}
}
