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

package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soliplex/ingester/internal/engine/artifact/fsstore"
	"github.com/soliplex/ingester/internal/engine/handler"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/stretchr/testify/require"
)

func TestRegister_AllEightStepTypes(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, Register(reg, http.DefaultClient))

	for _, ref := range []string{
		"builtin.ingest.bytes", "builtin.validate.basic", "builtin.parse.http",
		"builtin.chunk.fixed", "builtin.embed.http", "builtin.store.http",
		"builtin.enrich.static", "builtin.route.predicate",
	} {
		_, err := reg.Resolve(ref)
		require.NoError(t, err, ref)
	}
}

func TestValidate_RejectsOversizedDocument(t *testing.T) {
	store := fsstore.New(t.TempDir(), "file_store")
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "h1", model.ArtifactRaw, []byte("0123456789")))

	in := handler.Input{DocumentHash: "h1", Config: model.StepConfig{Config: map[string]any{"size_limit_bytes": 5}}}
	_, err := Validate(ctx, store, in)
	require.Error(t, err)
}

func TestChunk_SplitsIntoFixedSizeChunks(t *testing.T) {
	store := fsstore.New(t.TempDir(), "file_store")
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "h1", model.ArtifactParsedText, []byte("0123456789")))

	in := handler.Input{DocumentHash: "h1", Config: model.StepConfig{Config: map[string]any{"target_size": 4}}}
	out, err := Chunk(ctx, store, in)
	require.NoError(t, err)
	require.Equal(t, 3, out["chunk_count"])

	chunkBytes, err := store.Get(ctx, "h1", model.ArtifactChunks)
	require.NoError(t, err)
	var chunks []string
	require.NoError(t, json.Unmarshal(chunkBytes, &chunks))
	require.Equal(t, []string{"0123", "4567", "89"}, chunks)
}

func TestRoute_RecordsPredicateWithoutBranching(t *testing.T) {
	store := fsstore.New(t.TempDir(), "file_store")
	ctx := context.Background()

	in := handler.Input{
		DocumentHash: "h1",
		Config: model.StepConfig{
			Config:           map[string]any{"predicate_key": "is_pdf", "true_branch": "ocr", "false_branch": "skip_ocr"},
			CumulativeConfig: map[string]any{"is_pdf": true},
		},
	}
	out, err := Route(ctx, store, in)
	require.NoError(t, err)
	require.Equal(t, true, out["predicate_result"])
	require.Equal(t, "ocr", out["true_branch"])
}

func TestParse_CallsCollaboratorAndStoresText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(parserResponse{Text: "hello world"})
	}))
	defer srv.Close()

	store := fsstore.New(t.TempDir(), "file_store")
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "h1", model.ArtifactRaw, []byte("raw bytes")))

	in := handler.Input{DocumentHash: "h1", Config: model.StepConfig{Config: map[string]any{"endpoint": srv.URL}}}
	out, err := Parse(srv.Client())(ctx, store, in)
	require.NoError(t, err)
	require.Equal(t, len("hello world"), out["text_bytes"])

	got, err := store.Get(ctx, "h1", model.ArtifactParsedText)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestParse_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := fsstore.New(t.TempDir(), "file_store")
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "h1", model.ArtifactRaw, []byte("raw bytes")))

	in := handler.Input{DocumentHash: "h1", Config: model.StepConfig{Config: map[string]any{"endpoint": srv.URL}}}
	_, err := Parse(srv.Client())(ctx, store, in)
	require.Error(t, err)

	type retryable interface{ IsRetryable() bool }
	var re retryable
	require.ErrorAs(t, err, &re)
	require.True(t, re.IsRetryable())
}
