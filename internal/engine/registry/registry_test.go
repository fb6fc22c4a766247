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
	"os"
	"path/filepath"
	"testing"

	"github.com/soliplex/ingester/internal/engine/model"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoad_SeparatesOrigins(t *testing.T) {
	builtin := t.TempDir()
	user := t.TempDir()

	writeFile(t, builtin, "ingest.workflow.yaml", "id: ingest-basic\nname: Ingest\nsteps:\n  - name: fetch\n    step_type: ingest\n    handler_ref: builtin.ingest.fetch\n")
	writeFile(t, user, "custom.workflow.yaml", "id: custom-pipeline\nsteps:\n  - name: fetch\n    step_type: ingest\n    handler_ref: user.custom.fetch\n")
	writeFile(t, builtin, "default.params.yaml", "id: default\nsteps:\n  chunk:\n    target_size: 512\n")

	r := New()
	if err := r.Load(builtin, builtin, user, user); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wf, err := r.GetWorkflow("ingest-basic")
	if err != nil {
		t.Fatalf("GetWorkflow(ingest-basic) error = %v", err)
	}
	if wf.Origin != model.OriginBuiltIn {
		t.Errorf("ingest-basic origin = %s, want built-in", wf.Origin)
	}

	custom, err := r.GetWorkflow("custom-pipeline")
	if err != nil {
		t.Fatalf("GetWorkflow(custom-pipeline) error = %v", err)
	}
	if custom.Origin != model.OriginUser {
		t.Errorf("custom-pipeline origin = %s, want user", custom.Origin)
	}

	ps, err := r.GetParameterSet("default")
	if err != nil {
		t.Fatalf("GetParameterSet(default) error = %v", err)
	}
	if ps.Steps["chunk"]["target_size"] != 512 {
		t.Errorf("default params chunk.target_size = %v, want 512", ps.Steps["chunk"]["target_size"])
	}
}

func TestLoad_DuplicateIDAcrossDirsIsHardError(t *testing.T) {
	builtin := t.TempDir()
	user := t.TempDir()

	writeFile(t, builtin, "a.workflow.yaml", "id: shared\nsteps: []\n")
	writeFile(t, user, "b.workflow.yaml", "id: shared\nsteps: []\n")

	r := New()
	if err := r.Load(builtin, builtin, user, user); err == nil {
		t.Fatal("Load() with duplicate id across built-in and user dirs should error")
	}
}

func TestUploadWorkflow_CannotShadowBuiltin(t *testing.T) {
	builtin := t.TempDir()
	writeFile(t, builtin, "a.workflow.yaml", "id: shipped\nsteps: []\n")

	r := New()
	if err := r.Load(builtin, builtin, "", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err := r.UploadWorkflow(&model.WorkflowDefinition{ID: "shipped"})
	if err == nil {
		t.Fatal("UploadWorkflow() overwriting a built-in id should error")
	}
}

func TestDeleteWorkflow_BuiltinRefused(t *testing.T) {
	builtin := t.TempDir()
	writeFile(t, builtin, "a.workflow.yaml", "id: shipped\nsteps: []\n")

	r := New()
	if err := r.Load(builtin, builtin, "", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := r.DeleteWorkflow("shipped"); err == nil {
		t.Fatal("DeleteWorkflow() on a built-in id should error")
	}
}

func TestUploadAndDeleteWorkflow_UserOriginRoundTrip(t *testing.T) {
	r := New()
	if err := r.UploadWorkflow(&model.WorkflowDefinition{ID: "mine"}); err != nil {
		t.Fatalf("UploadWorkflow() error = %v", err)
	}
	if _, err := r.GetWorkflow("mine"); err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if err := r.DeleteWorkflow("mine"); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if _, err := r.GetWorkflow("mine"); err == nil {
		t.Fatal("GetWorkflow() after delete should error")
	}
}

func TestLoad_MissingUserDirIsNotAnError(t *testing.T) {
	builtin := t.TempDir()
	r := New()
	missing := filepath.Join(builtin, "does-not-exist")
	if err := r.Load(builtin, builtin, missing, missing); err != nil {
		t.Fatalf("Load() with missing user dir error = %v", err)
	}
}
