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

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/internal/engine/model"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := New(context.Background(), Config{Path: ":memory:"}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPendingStep(t *testing.T, st *Store, notBefore *time.Time) *model.RunStep {
	t.Helper()
	ctx := context.Background()

	batch := &model.Batch{Name: "b1", SourceTag: "test", StartedAt: time.Now()}
	require.NoError(t, st.CreateBatch(ctx, batch))

	created, err := st.UpsertDocument(ctx, &model.Document{Hash: "deadbeef", MimeType: "text/plain", Size: 5})
	require.NoError(t, err)
	require.True(t, created)

	_, err = st.UpsertURI(ctx, "file://a.txt", "test", "deadbeef", batch.ID)
	require.NoError(t, err)

	group := &model.RunGroup{Name: "g1", WorkflowID: "pipeline", ParameterSetID: "default", BatchID: batch.ID, Status: model.GroupPending}
	require.NoError(t, st.CreateGroup(ctx, group))

	run := &model.WorkflowRun{WorkflowID: "pipeline", GroupID: group.ID, BatchID: batch.ID, DocumentHash: "deadbeef", Status: model.RunPending}
	require.NoError(t, st.CreateRun(ctx, run))

	cfgID, err := st.CreateStepConfig(ctx, &model.StepConfig{StepType: model.StepParse, Config: map[string]any{}, CumulativeConfig: map[string]any{}})
	require.NoError(t, err)

	step := &model.RunStep{
		RunID: run.ID, StepNumber: 1, StepName: "parse", StepType: model.StepParse,
		HandlerRef: "builtin.parse.http", StepConfigID: cfgID, IsLast: true, RetryLimit: 3,
		Status: model.StepPending, NotBefore: notBefore,
	}
	require.NoError(t, st.CreateStep(ctx, step))
	return step
}

// Regression test for the RFC3339Nano not_before ordering bug: a
// not_before landing exactly on a whole second formats (under the old
// scheme) without a fractional part, which can lexicographically compare
// *after* the current instant's RFC3339Nano encoding (which almost
// always carries a nonzero fraction), wrongly excluding an eligible step
// from the claim set.
func TestClaimSteps_NotBeforeOnWholeSecondIsClaimable(t *testing.T) {
	st := newTestStore(t)
	notBefore := time.Now().Add(-time.Hour).Truncate(time.Second)
	seedPendingStep(t, st, &notBefore)

	claimed, err := st.ClaimSteps(context.Background(), "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestClaimSteps_NotBeforeInFutureIsNotClaimable(t *testing.T) {
	st := newTestStore(t)
	notBefore := time.Now().Add(time.Hour)
	seedPendingStep(t, st, &notBefore)

	claimed, err := st.ClaimSteps(context.Background(), "worker-1", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestClaimSteps_NilNotBeforeIsClaimable(t *testing.T) {
	st := newTestStore(t)
	seedPendingStep(t, st, nil)

	claimed, err := st.ClaimSteps(context.Background(), "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

// Regression test: the artifact delete must happen before tx.Commit, so
// a failing ArtifactDeleter leaves the document/URI rows in place
// instead of orphaning the artifact bytes it failed to remove.
func TestDeleteDocumentURI_ArtifactDeleteFailureRollsBackTransaction(t *testing.T) {
	boom := errors.New("boom")
	st := newTestStore(t, WithArtifactDeleter(func(ctx context.Context, hash string) (int, error) {
		return 0, boom
	}))
	ctx := context.Background()

	batch := &model.Batch{Name: "b1", SourceTag: "test", StartedAt: time.Now()}
	require.NoError(t, st.CreateBatch(ctx, batch))
	_, err := st.UpsertDocument(ctx, &model.Document{Hash: "deadbeef", MimeType: "text/plain", Size: 5})
	require.NoError(t, err)
	_, err = st.UpsertURI(ctx, "file://a.txt", "test", "deadbeef", batch.ID)
	require.NoError(t, err)

	_, _, err = st.DeleteDocumentURI(ctx, "file://a.txt", "test")
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	_, err = st.GetDocument(ctx, "deadbeef")
	require.NoError(t, err)
	_, err = st.GetURI(ctx, "file://a.txt", "test")
	require.NoError(t, err)
}

func TestDeleteDocumentURI_LastReferenceDeletesDocumentAndArtifacts(t *testing.T) {
	var deletedHash string
	st := newTestStore(t, WithArtifactDeleter(func(ctx context.Context, hash string) (int, error) {
		deletedHash = hash
		return 1, nil
	}))
	ctx := context.Background()

	batch := &model.Batch{Name: "b1", SourceTag: "test", StartedAt: time.Now()}
	require.NoError(t, st.CreateBatch(ctx, batch))
	_, err := st.UpsertDocument(ctx, &model.Document{Hash: "deadbeef", MimeType: "text/plain", Size: 5})
	require.NoError(t, err)
	_, err = st.UpsertURI(ctx, "file://a.txt", "test", "deadbeef", batch.ID)
	require.NoError(t, err)

	counts, total, err := st.DeleteDocumentURI(ctx, "file://a.txt", "test")
	require.NoError(t, err)
	require.Positive(t, total)
	require.Equal(t, 1, counts["artifacts"])
	require.Equal(t, "deadbeef", deletedHash)

	_, err = st.GetDocument(ctx, "deadbeef")
	require.Error(t, err)
}
