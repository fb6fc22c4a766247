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

// Package builtin implements the recognized step types of the Handler
// Contract (spec §4.4): ingest, validate, parse, chunk, embed, store,
// enrich, and route. parse/embed/store call out to the engine's two
// external collaborators (a parser service and a vector store, spec
// §6) over HTTP; the rest operate on artifacts already in hand.
//
// Every handler here is idempotent: each writes to a content-addressed
// artifact kind derived from (document hash, kind), so invoking it
// again with the same inputs overwrites with identical bytes rather
// than producing a second copy.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/handler"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/pkg/errors"
)

// Register wires every built-in handler into reg under its
// "builtin.<step>.<name>" reference. client is shared across the
// handlers that call an external collaborator.
func Register(reg *handler.Registry, client *http.Client) error {
	handlers := map[string]handler.Func{
		"builtin.ingest.bytes":    Ingest,
		"builtin.validate.basic":  Validate,
		"builtin.parse.http":      Parse(client),
		"builtin.chunk.fixed":     Chunk,
		"builtin.embed.http":      Embed(client),
		"builtin.store.http":      Store(client),
		"builtin.enrich.static":   Enrich,
		"builtin.route.predicate": Route,
	}
	for ref, fn := range handlers {
		if err := reg.Register(ref, fn); err != nil {
			return fmt.Errorf("builtin: registering %s: %w", ref, err)
		}
	}
	return nil
}

// Ingest checks that the document's raw bytes are already present as the
// "raw" artifact, written by the caller that submitted the batch before
// the run was created. It does not stage or copy any bytes itself; a
// missing "raw" artifact fails the step with a FatalError.
func Ingest(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
	exists, err := artifacts.Exists(ctx, in.DocumentHash, model.ArtifactRaw)
	if err != nil {
		return nil, &errors.RetryableError{Reason: "checking raw artifact", Cause: err}
	}
	if !exists {
		return nil, &errors.FatalError{Reason: "no raw artifact staged for document before the ingest step ran"}
	}
	return map[string]any{"staged": true}, nil
}

// Validate rejects inputs whose size or declared mime type falls
// outside the step's configured limits.
func Validate(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
	raw, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactRaw)
	if err != nil {
		return nil, &errors.RetryableError{Reason: "reading raw artifact", Cause: err}
	}

	if limit, ok := intOption(in.Config.Config, "size_limit_bytes"); ok && len(raw) > limit {
		return nil, &errors.FatalError{Reason: fmt.Sprintf("document is %d bytes, exceeds size_limit_bytes %d", len(raw), limit)}
	}

	if allowed, ok := in.Config.Config["allowed_mime_types"].([]any); ok && len(allowed) > 0 {
		mime, _ := in.Config.Config["mime_type"].(string)
		if !containsString(allowed, mime) {
			return nil, &errors.FatalError{Reason: fmt.Sprintf("mime type %q is not in allowed_mime_types", mime)}
		}
	}

	return map[string]any{"bytes": len(raw)}, nil
}

// parserRequest/parserResponse are the wire shapes of the parser
// service collaborator named in spec §6: "receives bytes/URL, returns
// structured text".
type parserRequest struct {
	Bytes   []byte         `json:"bytes"`
	Options map[string]any `json:"options"`
}

type parserResponse struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
}

// Parse calls the configured parser-service endpoint and stores its
// output as parsed-text (and parsed-structured, when returned).
func Parse(client *http.Client) handler.Func {
	return func(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
		raw, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactRaw)
		if err != nil {
			return nil, &errors.RetryableError{Reason: "reading raw artifact", Cause: err}
		}

		endpoint, ok := stringOption(in.Config.Config, "endpoint")
		if !ok {
			return nil, &errors.FatalError{Reason: "parse step config missing required \"endpoint\" option"}
		}

		var resp parserResponse
		if err := postJSON(ctx, client, endpoint, parserRequest{Bytes: raw, Options: in.Config.Config}, &resp); err != nil {
			return nil, err
		}

		if err := artifacts.Put(ctx, in.DocumentHash, model.ArtifactParsedText, []byte(resp.Text)); err != nil {
			return nil, &errors.RetryableError{Reason: "writing parsed-text artifact", Cause: err}
		}
		out := map[string]any{"text_bytes": len(resp.Text)}
		if resp.Structured != nil {
			structured, err := json.Marshal(resp.Structured)
			if err != nil {
				return nil, &errors.FatalError{Reason: "parser returned unmarshalable structured output", Cause: err}
			}
			if err := artifacts.Put(ctx, in.DocumentHash, model.ArtifactParsedStructured, structured); err != nil {
				return nil, &errors.RetryableError{Reason: "writing parsed-structured artifact", Cause: err}
			}
			out["structured_fields"] = len(resp.Structured)
		}
		return out, nil
	}
}

// Chunk splits parsed-text into fixed-size, optionally overlapping
// chunks and stores the result as the "chunks" artifact (a JSON array
// of strings).
func Chunk(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
	text, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactParsedText)
	if err != nil {
		return nil, &errors.RetryableError{Reason: "reading parsed-text artifact", Cause: err}
	}

	size, ok := intOption(in.Config.Config, "target_size")
	if !ok || size <= 0 {
		size = 1000
	}
	overlap, _ := intOption(in.Config.Config, "overlap")
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, string(text[start:end]))
		if end == len(text) {
			break
		}
	}

	body, err := json.Marshal(chunks)
	if err != nil {
		return nil, &errors.FatalError{Reason: "marshaling chunks", Cause: err}
	}
	if err := artifacts.Put(ctx, in.DocumentHash, model.ArtifactChunks, body); err != nil {
		return nil, &errors.RetryableError{Reason: "writing chunks artifact", Cause: err}
	}
	return map[string]any{"chunk_count": len(chunks)}, nil
}

type embedRequest struct {
	Chunks  []string       `json:"chunks"`
	Options map[string]any `json:"options"`
}

type embedResponse struct {
	Vectors [][]float64 `json:"vectors"`
}

// Embed calls the configured embedding endpoint with the chunks
// artifact and stores the resulting vectors as "embeddings".
func Embed(client *http.Client) handler.Func {
	return func(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
		chunkBytes, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactChunks)
		if err != nil {
			return nil, &errors.RetryableError{Reason: "reading chunks artifact", Cause: err}
		}
		var chunks []string
		if err := json.Unmarshal(chunkBytes, &chunks); err != nil {
			return nil, &errors.FatalError{Reason: "chunks artifact is not a JSON string array", Cause: err}
		}

		endpoint, ok := stringOption(in.Config.Config, "endpoint")
		if !ok {
			return nil, &errors.FatalError{Reason: "embed step config missing required \"endpoint\" option"}
		}

		var resp embedResponse
		if err := postJSON(ctx, client, endpoint, embedRequest{Chunks: chunks, Options: in.Config.Config}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Vectors) != len(chunks) {
			return nil, &errors.FatalError{Reason: fmt.Sprintf("embedding service returned %d vectors for %d chunks", len(resp.Vectors), len(chunks))}
		}

		body, err := json.Marshal(resp.Vectors)
		if err != nil {
			return nil, &errors.FatalError{Reason: "marshaling embeddings", Cause: err}
		}
		if err := artifacts.Put(ctx, in.DocumentHash, model.ArtifactEmbeddings, body); err != nil {
			return nil, &errors.RetryableError{Reason: "writing embeddings artifact", Cause: err}
		}
		return map[string]any{"vector_count": len(resp.Vectors)}, nil
	}
}

type storeRequest struct {
	DocumentHash string         `json:"document_hash"`
	Chunks       []string       `json:"chunks"`
	Vectors      [][]float64    `json:"vectors"`
	Options      map[string]any `json:"options"`
}

type storeResponse struct {
	Receipt string `json:"receipt"`
}

// Store upserts (document id, chunks, embeddings) into the configured
// vector store endpoint (spec §6's "accepts an upsert ... returns a
// receipt" collaborator contract) and records the receipt as
// "store-receipt".
func Store(client *http.Client) handler.Func {
	return func(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
		chunkBytes, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactChunks)
		if err != nil {
			return nil, &errors.RetryableError{Reason: "reading chunks artifact", Cause: err}
		}
		vectorBytes, err := artifacts.Get(ctx, in.DocumentHash, model.ArtifactEmbeddings)
		if err != nil {
			return nil, &errors.RetryableError{Reason: "reading embeddings artifact", Cause: err}
		}
		var chunks []string
		if err := json.Unmarshal(chunkBytes, &chunks); err != nil {
			return nil, &errors.FatalError{Reason: "chunks artifact is not a JSON string array", Cause: err}
		}
		var vectors [][]float64
		if err := json.Unmarshal(vectorBytes, &vectors); err != nil {
			return nil, &errors.FatalError{Reason: "embeddings artifact is not a JSON vector array", Cause: err}
		}

		endpoint, ok := stringOption(in.Config.Config, "endpoint")
		if !ok {
			return nil, &errors.FatalError{Reason: "store step config missing required \"endpoint\" option"}
		}

		var resp storeResponse
		req := storeRequest{DocumentHash: in.DocumentHash, Chunks: chunks, Vectors: vectors, Options: in.Config.Config}
		if err := postJSON(ctx, client, endpoint, req, &resp); err != nil {
			return nil, err
		}

		if err := artifacts.Put(ctx, in.DocumentHash, model.ArtifactStoreReceipt, []byte(resp.Receipt)); err != nil {
			return nil, &errors.RetryableError{Reason: "writing store-receipt artifact", Cause: err}
		}
		return map[string]any{"receipt": resp.Receipt}, nil
	}
}

// Enrich merges the step's static configuration into the step's
// metadata map. It has no artifact or collaborator of its own; it
// exists for workflow steps that only need to stamp fixed fields
// (spec §4.4: "handler-specific").
func Enrich(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
	out := make(map[string]any, len(in.Config.Config))
	for k, v := range in.Config.Config {
		out[k] = v
	}
	return out, nil
}

// Route evaluates the step's predicate key against its cumulative
// config and records the boolean result along with the configured
// branch names, without acting on them: branching beyond linear step
// progression is explicitly out of scope (see Open Question decision
// #1 — the engine always advances to the next step number regardless
// of this result).
func Route(ctx context.Context, artifacts artifact.Store, in handler.Input) (map[string]any, error) {
	key, ok := stringOption(in.Config.Config, "predicate_key")
	if !ok {
		return nil, &errors.FatalError{Reason: "route step config missing required \"predicate_key\" option"}
	}
	val, present := in.Config.CumulativeConfig[key]
	result := present && truthy(val)

	out := map[string]any{"predicate_key": key, "predicate_result": result}
	if branch, ok := stringOption(in.Config.Config, "true_branch"); ok {
		out["true_branch"] = branch
	}
	if branch, ok := stringOption(in.Config.Config, "false_branch"); ok {
		out["false_branch"] = branch
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &errors.FatalError{Reason: "marshaling request body", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return &errors.FatalError{Reason: "building collaborator request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &errors.RetryableError{Reason: fmt.Sprintf("calling collaborator %s", endpoint), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &errors.RetryableError{Reason: fmt.Sprintf("collaborator %s returned %d", endpoint, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &errors.FatalError{Reason: fmt.Sprintf("collaborator %s returned %d", endpoint, resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errors.RetryableError{Reason: fmt.Sprintf("decoding response from %s", endpoint), Cause: err}
	}
	return nil
}

func stringOption(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key].(string)
	return v, ok && v != ""
}

func intOption(cfg map[string]any, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func containsString(items []any, s string) bool {
	for _, item := range items {
		if str, ok := item.(string); ok && str == s {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return v != nil
	}
}
