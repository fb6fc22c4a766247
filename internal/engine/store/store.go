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

// Package store defines the persistence-layer contract (spec §4.2): async
// sessions with transaction scope, identical semantics across an embedded
// single-writer backend (store/sqlite) and a concurrent client/server
// backend (store/postgres).
//
// # Interface Hierarchy
//
// Interface segregation mirrors the teacher's backend package: narrow
// interfaces for each concern, composed into Store for full-featured
// backends. Components that only need one concern (e.g. the scheduler
// needs ClaimStore + StepStore) can accept the narrower interface.
package store

import (
	"context"
	"io"
	"time"

	"github.com/soliplex/ingester/internal/engine/model"
)

// BatchStore persists Batch rows.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, id int64) (*model.Batch, error)
	CompleteBatch(ctx context.Context, id int64, completedAt time.Time) error
}

// DocumentStore persists content-addressed Document rows and the
// DocumentURI mappings that reference them.
type DocumentStore interface {
	// UpsertDocument creates the Document row if absent. Returns
	// (created=false, nil) when the hash already exists — ingesting the
	// same bytes twice is a no-op on this table (spec §8).
	UpsertDocument(ctx context.Context, doc *model.Document) (created bool, err error)
	GetDocument(ctx context.Context, hash string) (*model.Document, error)
	DeleteDocument(ctx context.Context, hash string) error

	// GetURI fetches the current DocumentURI row for (uri, source).
	GetURI(ctx context.Context, uri, source string) (*model.DocumentURI, error)
	// UpsertURI creates or updates the (uri, source) mapping, bumping
	// Version when the resolved hash changes, and appends a
	// DocumentURIHistory row in the same transaction. Returns the
	// previous BatchID when the URI already existed with this hash, so
	// callers can surface the "already exists" signal (spec §8 scenario 2).
	UpsertURI(ctx context.Context, uri, source, hash string, batchID int64) (result URIUpsertResult, err error)
	DeleteURI(ctx context.Context, uri, source string) error
	CountURIsForHash(ctx context.Context, hash string) (int, error)
	ListURIsForSource(ctx context.Context, source string) (map[string]string, error) // uri -> hash
}

// URIUpsertResult reports what UpsertURI did, so callers can surface the
// deduplication signal from spec §8 scenario 2.
type URIUpsertResult struct {
	Created       bool
	Changed       bool
	PriorBatchID  int64
	DocumentURI   *model.DocumentURI
}

// GroupStore persists RunGroup rows.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *model.RunGroup) error
	GetGroup(ctx context.Context, id int64) (*model.RunGroup, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]*model.RunGroup, error)
	UpdateGroupStatus(ctx context.Context, id int64, status model.GroupStatus, message string, metadata map[string]any) error
}

// GroupFilter narrows ListGroups.
type GroupFilter struct {
	BatchID int64
	Status  model.GroupStatus
	Limit   int
	Offset  int
}

// RunStore persists WorkflowRun rows.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id int64) (*model.WorkflowRun, error)
	ListRunsForGroup(ctx context.Context, groupID int64) ([]*model.WorkflowRun, error)
	// CountNonTerminalRuns reports how many runs in the group have not
	// reached a terminal status; used to decide group completion.
	CountNonTerminalRuns(ctx context.Context, groupID int64) (int, error)
	// CountFailedRuns reports how many runs in the group are FAILED.
	CountFailedRuns(ctx context.Context, groupID int64) (int, error)
	UpdateRunStatus(ctx context.Context, id int64, status model.RunStatus, message string, metadata map[string]any, completedAt *time.Time) error
}

// StepConfigStore persists immutable StepConfig snapshots.
type StepConfigStore interface {
	CreateStepConfig(ctx context.Context, cfg *model.StepConfig) (int64, error)
	GetStepConfig(ctx context.Context, id int64) (*model.StepConfig, error)
}

// ClaimStore implements the claim half of the scheduler (spec §4.5.a):
// atomically select and lock eligible PENDING steps.
type ClaimStore interface {
	// ClaimSteps selects up to limit RunStep rows eligible per the claim
	// predicate (PENDING, no RUNNING sibling in the run, predecessor
	// COMPLETED or step 1, not-before elapsed), orders them by
	// (priority desc, created_at asc, run id asc), locks them, and sets
	// status=RUNNING, worker_id, start_time in the same transaction.
	ClaimSteps(ctx context.Context, workerID string, limit int) ([]*model.RunStep, error)
}

// StepStore persists RunStep rows and implements the advance half of the
// scheduler (spec §4.5 "Advance").
type StepStore interface {
	// CreateStep inserts the first RunStep of a newly created
	// WorkflowRun (step_number 1), PENDING. Every subsequent step is
	// inserted by CompleteStep's next argument, not this method.
	CreateStep(ctx context.Context, step *model.RunStep) error
	GetStep(ctx context.Context, id int64) (*model.RunStep, error)
	ListStepsForRun(ctx context.Context, runID int64) ([]*model.RunStep, error)

	// CompleteStep marks step COMPLETED. If next is non-nil the caller
	// has already determined this is not the last step; next is inserted
	// as the new PENDING RunStep in the same transaction.
	CompleteStep(ctx context.Context, stepID int64, next *model.RunStep) error

	// RetryStep increments retry, sets status=PENDING, clears worker_id,
	// and sets NotBefore, in the same transaction.
	RetryStep(ctx context.Context, stepID int64, notBefore time.Time, message string) error

	// FailStep sets status=FAILED with a message, terminal.
	FailStep(ctx context.Context, stepID int64, message string) error

	// ReclaimStaleSteps resets RUNNING steps whose worker_id is in the
	// given set back to PENDING with worker_id cleared (spec §4.5 crash
	// recovery), returning the reclaimed step ids.
	ReclaimStaleSteps(ctx context.Context, staleWorkerIDs []string) ([]int64, error)
}

// WorkerCheckinStore persists worker liveness.
type WorkerCheckinStore interface {
	Heartbeat(ctx context.Context, workerID string, now time.Time) error
	ListStaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]string, error)
	RemoveWorker(ctx context.Context, workerID string) error
}

// LifecycleStore persists the append-only LifecycleHistory trail.
type LifecycleStore interface {
	AppendEvent(ctx context.Context, event *model.LifecycleHistory) error
	ListEventsForGroup(ctx context.Context, groupID int64) ([]*model.LifecycleHistory, error)
}

// CascadeStore implements the two cascading-deletion operations (spec
// §4.8), each a single transaction.
type CascadeStore interface {
	// DeleteRunGroup removes the group, its runs, their steps, and their
	// lifecycle history, returning a per-table count map and the total.
	DeleteRunGroup(ctx context.Context, id int64) (counts map[string]int, total int, err error)

	// DeleteDocumentURI removes a DocumentURI and, if it was the last
	// reference to its Document, cascades to the Document, its runs,
	// steps, lifecycle history, and artifacts (the Artifact Store is
	// invoked via the artifactDeleter passed to the constructor).
	DeleteDocumentURI(ctx context.Context, uri, source string) (counts map[string]int, total int, err error)
}

// Store composes every segregated interface for full-featured backends.
// Both store/sqlite and store/postgres implement Store; store/memstore
// implements it for unit tests that should not need a real database.
type Store interface {
	BatchStore
	DocumentStore
	GroupStore
	RunStore
	StepConfigStore
	ClaimStore
	StepStore
	WorkerCheckinStore
	LifecycleStore
	CascadeStore
	io.Closer
}
