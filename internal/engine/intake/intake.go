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

// Package intake is the entry point the out-of-scope REST layer and CLI
// call into: it creates batches, ingests document bytes into the
// content-addressed Document/Artifact tables, and starts workflows for a
// batch by materializing a RunGroup and one WorkflowRun per document
// (spec.md §2's "a client creates a Batch, ingests Documents ... then
// asks the engine to start workflows" data flow). Nothing here claims or
// executes a step; that is the Scheduler's and Worker Runtime's job.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/internal/engine/artifact"
	"github.com/soliplex/ingester/internal/engine/lifecycle"
	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/registry"
	"github.com/soliplex/ingester/internal/engine/store"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Service wires the persistence store, artifact store, and registry
// together for the batch-create/ingest/start-workflows operations.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	registry  *registry.Registry
	lifecycle *lifecycle.Recorder
	logger    *slog.Logger
}

// New builds an intake Service.
func New(st store.Store, artifacts artifact.Store, reg *registry.Registry, rec *lifecycle.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, artifacts: artifacts, registry: reg, lifecycle: rec, logger: logger.With(slog.String("component", "intake"))}
}

// CreateBatch opens a new Batch with the current time as its start.
func (s *Service) CreateBatch(ctx context.Context, name, sourceTag string, parameters map[string]any) (*model.Batch, error) {
	batch := &model.Batch{Name: name, SourceTag: sourceTag, StartedAt: time.Now(), Parameters: parameters}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, ingestererrors.Wrap(err, "creating batch")
	}
	return batch, nil
}

// IngestResult reports what IngestDocument did, so a caller can surface
// the deduplication signal from spec.md §8 scenario 2.
type IngestResult struct {
	DocumentHash   string
	DocumentNew    bool
	URICreated     bool
	URIChanged     bool
	PriorBatchID   int64
}

// IngestDocument hashes content, creates the Document row if its hash is
// new (writing the raw Artifact alongside it), and upserts the
// (uri, source) mapping to that hash under batchID. Ingesting identical
// bytes under the same URI twice is a no-op beyond the DocumentURI
// version bump spec.md §3's Document invariant requires on content
// change, never on a repeat of the same content (spec §8 scenario 2).
func (s *Service) IngestDocument(ctx context.Context, batchID int64, uri, source, mimeType string, content []byte) (*IngestResult, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	created, err := s.store.UpsertDocument(ctx, &model.Document{Hash: hash, MimeType: mimeType, Size: int64(len(content))})
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "upserting document %s", hash)
	}
	if created {
		if err := s.artifacts.Put(ctx, hash, model.ArtifactRaw, content); err != nil {
			return nil, ingestererrors.Wrapf(err, "storing raw artifact for %s", hash)
		}
	}

	result, err := s.store.UpsertURI(ctx, uri, source, hash, batchID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "upserting document uri %s/%s", source, uri)
	}

	return &IngestResult{
		DocumentHash: hash,
		DocumentNew:  created,
		URICreated:   result.Created,
		URIChanged:   result.Changed,
		PriorBatchID: result.PriorBatchID,
	}, nil
}

// StartWorkflows materializes a RunGroup and one WorkflowRun per document
// hash, each seeded with its first PENDING RunStep. The group_start and
// item_start lifecycle events are recorded by the scheduler when step 1
// of a run is first claimed, not here. workflowID and
// parameterSetID must resolve in the registry; every documentHash is
// assumed already ingested.
func (s *Service) StartWorkflows(ctx context.Context, batchID int64, name, workflowID, parameterSetID string, documentHashes []string) (*model.RunGroup, error) {
	wf, err := s.registry.GetWorkflow(workflowID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "resolving workflow %s", workflowID)
	}
	if len(wf.Steps) == 0 {
		return nil, &ingestererrors.ValidationError{Field: "workflow_id", Message: fmt.Sprintf("workflow %s has no steps", workflowID)}
	}
	if _, err := s.registry.GetParameterSet(parameterSetID); err != nil {
		return nil, ingestererrors.Wrapf(err, "resolving parameter set %s", parameterSetID)
	}

	now := time.Now()
	group := &model.RunGroup{
		Name:           name,
		WorkflowID:     workflowID,
		ParameterSetID: parameterSetID,
		BatchID:        batchID,
		Status:         model.GroupPending,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, ingestererrors.Wrap(err, "creating run group")
	}

	for _, hash := range documentHashes {
		run := &model.WorkflowRun{
			WorkflowID:   workflowID,
			GroupID:      group.ID,
			BatchID:      batchID,
			DocumentHash: hash,
			Status:       model.RunPending,
			CreatedAt:    now,
		}
		if err := s.store.CreateRun(ctx, run); err != nil {
			return nil, ingestererrors.Wrapf(err, "creating workflow run for document %s", hash)
		}

		first, err := firstStep(ctx, s.store, s.registry, run, parameterSetID)
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateStep(ctx, first); err != nil {
			return nil, ingestererrors.Wrapf(err, "seeding first step for run %d", run.ID)
		}
	}

	return group, nil
}

// firstStep builds the RunStep and StepConfig for step 1 of run, the way
// scheduler.buildNextStep builds every step after it: step 1's cumulative
// config is just its own resolved options, since there is no prior step
// to merge forward.
func firstStep(ctx context.Context, st store.StepConfigStore, reg *registry.Registry, run *model.WorkflowRun, parameterSetID string) (*model.RunStep, error) {
	wf, err := reg.GetWorkflow(run.WorkflowID)
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "resolving workflow %s", run.WorkflowID)
	}
	def := wf.Steps[0]

	options := map[string]any{}
	for k, v := range def.StaticParams {
		options[k] = v
	}
	if ps, err := reg.GetParameterSet(parameterSetID); err == nil {
		if stepParams, ok := ps.Steps[def.Name]; ok {
			for k, v := range stepParams {
				options[k] = v
			}
		}
	}

	cfg := &model.StepConfig{
		StepType:         def.StepType,
		Config:           options,
		CumulativeConfig: options,
		CreatedAt:        time.Now(),
	}
	cfgID, err := st.CreateStepConfig(ctx, cfg)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "creating step config")
	}

	retryLimit := 3
	if def.RetryLimit != nil {
		retryLimit = *def.RetryLimit
	}

	return &model.RunStep{
		RunID:        run.ID,
		StepNumber:   1,
		StepName:     def.Name,
		StepType:     def.StepType,
		HandlerRef:   def.HandlerRef,
		StepConfigID: cfgID,
		IsLast:       len(wf.Steps) == 1,
		RetryLimit:   retryLimit,
		Status:       model.StepPending,
		CreatedAt:    time.Now(),
	}, nil
}
