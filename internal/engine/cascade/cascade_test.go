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

package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/internal/engine/artifact/fsstore"
	"github.com/soliplex/ingester/internal/engine/intake"
	"github.com/soliplex/ingester/internal/engine/lifecycle"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/registry"
	"github.com/soliplex/ingester/internal/engine/store/memstore"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	one := 0
	reg := registry.New()
	require.NoError(t, reg.UploadWorkflow(&model.WorkflowDefinition{
		ID: "pipeline", Name: "pipeline",
		Steps: []model.StepDefinition{
			{Name: "parse", StepType: model.StepParse, HandlerRef: "builtin.parse.http", RetryLimit: &one},
		},
	}))
	require.NoError(t, reg.UploadParameterSet(&model.ParameterSet{ID: "default"}))
	return reg
}

func TestDeleteDocumentURI_LastReferenceDeletesEverything(t *testing.T) {
	ctx := context.Background()
	artifacts := fsstore.New(t.TempDir(), "file_store")
	st := memstore.New(memstore.WithArtifactDeleter(artifacts.DeleteAllFor))
	reg := newTestRegistry(t)
	in := intake.New(st, artifacts, reg, lifecycle.NewRecorder(st), nil)

	batch, err := in.CreateBatch(ctx, "b1", "test", nil)
	require.NoError(t, err)
	result, err := in.IngestDocument(ctx, batch.ID, "file://a.txt", "test", "text/plain", []byte("hello"))
	require.NoError(t, err)
	group, err := in.StartWorkflows(ctx, batch.ID, "g1", "pipeline", "default", []string{result.DocumentHash})
	require.NoError(t, err)

	cas := New(st, nil)
	counts, total, err := cas.DeleteDocumentURI(ctx, "file://a.txt", "test")
	require.NoError(t, err)
	require.Positive(t, total)
	require.Equal(t, 1, counts["documents"])
	require.Equal(t, 1, counts["workflow_runs"])
	require.Equal(t, 1, counts["run_steps"])
	require.Equal(t, 1, counts["artifacts"])

	_, err = st.GetDocument(ctx, result.DocumentHash)
	require.Error(t, err)
	var notFound *ingestererrors.NotFoundError
	require.ErrorAs(t, err, &notFound)

	runs, err := st.ListRunsForGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, runs)

	exists, err := artifacts.Exists(ctx, result.DocumentHash, model.ArtifactRaw)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeleteDocumentURI_NotLastReferenceKeepsDocument(t *testing.T) {
	ctx := context.Background()
	artifacts := fsstore.New(t.TempDir(), "file_store")
	st := memstore.New(memstore.WithArtifactDeleter(artifacts.DeleteAllFor))
	reg := newTestRegistry(t)
	in := intake.New(st, artifacts, reg, lifecycle.NewRecorder(st), nil)

	batch, err := in.CreateBatch(ctx, "b1", "test", nil)
	require.NoError(t, err)
	result, err := in.IngestDocument(ctx, batch.ID, "file://a.txt", "test", "text/plain", []byte("hello"))
	require.NoError(t, err)
	_, err = in.IngestDocument(ctx, batch.ID, "file://b.txt", "test", "text/plain", []byte("hello"))
	require.NoError(t, err)
	_, err = in.StartWorkflows(ctx, batch.ID, "g1", "pipeline", "default", []string{result.DocumentHash})
	require.NoError(t, err)

	cas := New(st, nil)
	counts, total, err := cas.DeleteDocumentURI(ctx, "file://a.txt", "test")
	require.NoError(t, err)
	require.Positive(t, total)
	require.Equal(t, 0, counts["documents"])
	require.NotContains(t, counts, "artifacts")

	doc, err := st.GetDocument(ctx, result.DocumentHash)
	require.NoError(t, err)
	require.Equal(t, result.DocumentHash, doc.Hash)

	_, err = st.GetURI(ctx, "file://b.txt", "test")
	require.NoError(t, err)

	exists, err := artifacts.Exists(ctx, result.DocumentHash, model.ArtifactRaw)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDeleteDocumentURI_ArtifactDeleteFailureRollsBackStoreRows(t *testing.T) {
	ctx := context.Background()
	artifacts := fsstore.New(t.TempDir(), "file_store")
	boom := errors.New("boom")
	st := memstore.New(memstore.WithArtifactDeleter(func(ctx context.Context, hash string) (int, error) {
		return 0, boom
	}))
	reg := newTestRegistry(t)
	in := intake.New(st, artifacts, reg, lifecycle.NewRecorder(st), nil)

	batch, err := in.CreateBatch(ctx, "b1", "test", nil)
	require.NoError(t, err)
	result, err := in.IngestDocument(ctx, batch.ID, "file://a.txt", "test", "text/plain", []byte("hello"))
	require.NoError(t, err)

	cas := New(st, nil)
	_, _, err = cas.DeleteDocumentURI(ctx, "file://a.txt", "test")
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	// The SQL backends roll back the whole transaction when the artifact
	// delete fails; memstore must leave its rows untouched the same way.
	doc, err := st.GetDocument(ctx, result.DocumentHash)
	require.NoError(t, err)
	require.Equal(t, result.DocumentHash, doc.Hash)

	_, err = st.GetURI(ctx, "file://a.txt", "test")
	require.NoError(t, err)
}

func TestDeleteRunGroup_RemovesRunsStepsAndLifecycle(t *testing.T) {
	ctx := context.Background()
	artifacts := fsstore.New(t.TempDir(), "file_store")
	st := memstore.New(memstore.WithArtifactDeleter(artifacts.DeleteAllFor))
	reg := newTestRegistry(t)
	in := intake.New(st, artifacts, reg, lifecycle.NewRecorder(st), nil)

	batch, err := in.CreateBatch(ctx, "b1", "test", nil)
	require.NoError(t, err)
	result, err := in.IngestDocument(ctx, batch.ID, "file://a.txt", "test", "text/plain", []byte("hello"))
	require.NoError(t, err)
	group, err := in.StartWorkflows(ctx, batch.ID, "g1", "pipeline", "default", []string{result.DocumentHash})
	require.NoError(t, err)

	cas := New(st, nil)
	counts, total, err := cas.DeleteRunGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Positive(t, total)
	require.Equal(t, 1, counts["workflow_runs"])
	require.Equal(t, 1, counts["run_steps"])

	_, err = st.GetGroup(ctx, group.ID)
	require.Error(t, err)
	var notFound *ingestererrors.NotFoundError
	require.ErrorAs(t, err, &notFound)

	events, err := st.ListEventsForGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDeleteRunGroup_UnknownGroupIsNotFound(t *testing.T) {
	st := memstore.New()
	cas := New(st, nil)
	_, _, err := cas.DeleteRunGroup(context.Background(), 999)
	require.Error(t, err)
	var notFound *ingestererrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
