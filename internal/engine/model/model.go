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

// Package model holds the persistent entities of the ingestion engine:
// batches, documents, document-URI mappings, workflow runs and their
// steps, parameter sets, worker check-ins, and the lifecycle audit trail.
package model

import "time"

// GroupStatus is the lifecycle status of a RunGroup.
type GroupStatus string

const (
	GroupPending   GroupStatus = "PENDING"
	GroupRunning   GroupStatus = "RUNNING"
	GroupCompleted GroupStatus = "COMPLETED"
	GroupError     GroupStatus = "ERROR"
	GroupFailed    GroupStatus = "FAILED"
)

// Terminal reports whether the group will never transition again.
func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupFailed
}

// RunStatus is the lifecycle status of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether the run will never transition again.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the lifecycle status of a RunStep. See spec §4.5 for the
// full state machine (PENDING -> RUNNING -> COMPLETED|ERROR|FAILED).
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepError     StepStatus = "ERROR"
	StepFailed    StepStatus = "FAILED"
)

// Terminal reports whether the step will never transition again. ERROR is
// not terminal: it returns to PENDING once the backoff window elapses.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ArtifactKind labels a class of intermediate step output.
type ArtifactKind string

const (
	ArtifactRaw              ArtifactKind = "raw"
	ArtifactParsedText       ArtifactKind = "parsed-text"
	ArtifactParsedStructured ArtifactKind = "parsed-structured"
	ArtifactChunks           ArtifactKind = "chunks"
	ArtifactEmbeddings       ArtifactKind = "embeddings"
	ArtifactStoreReceipt     ArtifactKind = "store-receipt"
)

// StepType identifies a recognized handler category (spec §4.4). Handler
// fully-qualified names are not constrained to this set; it only documents
// the options each built-in handler recognizes.
type StepType string

const (
	StepIngest   StepType = "ingest"
	StepValidate StepType = "validate"
	StepParse    StepType = "parse"
	StepChunk    StepType = "chunk"
	StepEmbed    StepType = "embed"
	StepStore    StepType = "store"
	StepEnrich   StepType = "enrich"
	StepRoute    StepType = "route"
)

// URIHistoryAction is the kind of transition recorded in a
// DocumentURIHistory row.
type URIHistoryAction string

const (
	URICreated URIHistoryAction = "created"
	URIUpdated URIHistoryAction = "updated"
	URIDeleted URIHistoryAction = "deleted"
)

// LifecycleEventKind is the kind of an append-only LifecycleHistory row.
type LifecycleEventKind string

const (
	EventGroupStart LifecycleEventKind = "group_start"
	EventGroupEnd   LifecycleEventKind = "group_end"
	EventItemStart  LifecycleEventKind = "item_start"
	EventItemEnd    LifecycleEventKind = "item_end"
	EventItemFailed LifecycleEventKind = "item_failed"
	EventStepStart  LifecycleEventKind = "step_start"
	EventStepEnd    LifecycleEventKind = "step_end"
	EventStepFailed LifecycleEventKind = "step_failed"
)

// Batch is a client-grouped collection of documents ingested together for
// operational accounting.
type Batch struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	SourceTag   string         `json:"source_tag"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Document is the content-addressed unit of processing. The identity is
// the hex content hash; exactly one row exists per distinct content.
type Document struct {
	Hash     string         `json:"hash"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocumentURI is a named reference into a source system. Many URIs may
// name the same Document; the pair (uri, source) is unique.
type DocumentURI struct {
	ID            int64     `json:"id"`
	URI           string    `json:"uri"`
	Source        string    `json:"source"`
	DocumentHash  string    `json:"document_hash"`
	Version       int64     `json:"version"`
	BatchID       int64     `json:"batch_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentURIHistory is an append-only record of one transition of a
// DocumentURI: its hash, version, and the batch that caused the change.
type DocumentURIHistory struct {
	ID            int64            `json:"id"`
	DocumentURIID int64            `json:"document_uri_id"`
	Version       int64            `json:"version"`
	DocumentHash  string           `json:"document_hash"`
	Action        URIHistoryAction `json:"action"`
	BatchID       int64            `json:"batch_id"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Artifact is a typed byte blob produced by a step, keyed by
// (content hash, kind, storage root). Its bytes live in the Artifact
// Store, not in this row; ByteCount mirrors what the store reports.
type Artifact struct {
	DocumentHash string       `json:"document_hash"`
	Kind         ArtifactKind `json:"kind"`
	StorageRoot  string       `json:"storage_root"`
	ByteCount    int64        `json:"byte_count"`
	ExternalRef  string       `json:"external_ref,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RunGroup is the batch-wide execution record created when workflows are
// started: one RunGroup produces one WorkflowRun per ingested document.
type RunGroup struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	WorkflowID      string         `json:"workflow_id"`
	ParameterSetID  string         `json:"parameter_set_id"`
	BatchID         int64          `json:"batch_id"`
	Status          GroupStatus    `json:"status"`
	StatusMessage   string         `json:"status_message,omitempty"`
	StatusMetadata  map[string]any `json:"status_metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// WorkflowRun is the per-document execution of one workflow definition.
// It owns an ordered, 1-based sequence of RunSteps.
type WorkflowRun struct {
	ID             int64          `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	GroupID        int64          `json:"group_id"`
	BatchID        int64          `json:"batch_id"`
	DocumentHash   string         `json:"document_hash"`
	Priority       int            `json:"priority"`
	Status         RunStatus      `json:"status"`
	StatusMessage  string         `json:"status_message,omitempty"`
	StatusMetadata map[string]any `json:"status_metadata,omitempty"`
	RunParameters  map[string]any `json:"run_parameters,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// RunStep is one step's execution record within a WorkflowRun. StepNumber
// is 1-based and unique within the run; only one step per run may be
// RUNNING at a time (spec §4.5, invariant 1).
type RunStep struct {
	ID            int64      `json:"id"`
	RunID         int64      `json:"run_id"`
	StepNumber    int        `json:"step_number"`
	StepName      string     `json:"step_name"`
	StepType      StepType   `json:"step_type"`
	HandlerRef    string     `json:"handler_ref"`
	StepConfigID  int64      `json:"step_config_id"`
	IsLast        bool       `json:"is_last"`
	Retry         int        `json:"retry"`
	RetryLimit    int        `json:"retry_limit"`
	Status        StepStatus `json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
	NotBefore     *time.Time `json:"not_before,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// StepConfig is an immutable, content-addressable snapshot of what a step
// was told to do: its own options plus the cumulative config of every
// step that ran before it in the same WorkflowRun.
type StepConfig struct {
	ID               int64          `json:"id"`
	StepType         StepType       `json:"step_type"`
	Config           map[string]any `json:"config"`
	CumulativeConfig map[string]any `json:"cumulative_config"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ParameterSet is a declarative bundle of per-step options, keyed by a
// stable string id, loaded by the Registry from disk or API upload.
type ParameterSet struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name,omitempty"`
	Origin   Origin                    `json:"origin"`
	RawBody  string                    `json:"raw_body"`
	Steps    map[string]map[string]any `json:"steps"`
}

// Origin distinguishes shipped (built-in) registry entries, which cannot
// be deleted through the public surface, from user-uploaded ones.
type Origin string

const (
	OriginBuiltIn Origin = "built-in"
	OriginUser    Origin = "user"
)

// WorkerCheckin tracks worker liveness for stale-worker crash recovery.
type WorkerCheckin struct {
	WorkerID  string    `json:"worker_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LifecycleHistory is an append-only engine event, written as a separate
// write after the state change it observes, not in that change's
// transaction.
type LifecycleHistory struct {
	ID        int64               `json:"id"`
	EventKind LifecycleEventKind  `json:"event_kind"`
	GroupID   int64               `json:"group_id"`
	RunID     *int64              `json:"run_id,omitempty"`
	StepID    *int64              `json:"step_id,omitempty"`
	Status    string              `json:"status"`
	Message   string              `json:"message,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// WorkflowDefinition is a declarative ordered list of steps and their
// handlers, loaded by the Registry (spec §4.3, §6).
type WorkflowDefinition struct {
	ID      string           `json:"id"`
	Name    string           `json:"name,omitempty"`
	Origin  Origin           `json:"origin"`
	RawBody string           `json:"raw_body"`
	Steps   []StepDefinition `json:"steps"`
}

// StepDefinition is one entry in a WorkflowDefinition: a name, a handler
// fully-qualified reference, and optional static parameters.
type StepDefinition struct {
	Name           string         `json:"name"`
	StepType       StepType       `json:"step_type"`
	HandlerRef     string         `json:"handler_ref"`
	RetryLimit     *int           `json:"retry_limit,omitempty"`
	StaticParams   map[string]any `json:"static_params,omitempty"`
}
