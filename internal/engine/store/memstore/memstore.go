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

// Package memstore is an in-memory store.Store, serving the same "fast
// unit test against the interface" role the teacher's backend/memory
// package serves. It is not for production use: state is lost on
// process exit and there is no row-level locking across processes.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/store"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

var _ store.Store = (*Store)(nil)

// ArtifactDeleter removes every artifact blob for a content hash (spec
// §4.8). Mirrors store/sqlite and store/postgres so tests can exercise
// the same cascade wiring against an in-memory store.
type ArtifactDeleter func(ctx context.Context, hash string) (int, error)

// Store is an in-memory implementation of store.Store, guarded by a
// single mutex. Good enough for scheduler/worker unit tests; not for
// benchmarking claim throughput.
type Store struct {
	mu sync.Mutex

	nextID int64

	batches         map[int64]*model.Batch
	documents       map[string]*model.Document
	uris            map[string]*model.DocumentURI // key: uri+"\x00"+source
	uriHistory      []*model.DocumentURIHistory
	groups          map[int64]*model.RunGroup
	runs            map[int64]*model.WorkflowRun
	steps           map[int64]*model.RunStep
	stepConfigs     map[int64]*model.StepConfig
	checkins        map[string]*model.WorkerCheckin
	lifecycle       []*model.LifecycleHistory
	artifactDeleter ArtifactDeleter
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithArtifactDeleter wires the Artifact Store into the Document-deletion
// cascade (spec §4.8).
func WithArtifactDeleter(d ArtifactDeleter) Option {
	return func(s *Store) { s.artifactDeleter = d }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		batches:     make(map[int64]*model.Batch),
		documents:   make(map[string]*model.Document),
		uris:        make(map[string]*model.DocumentURI),
		groups:      make(map[int64]*model.RunGroup),
		runs:        make(map[int64]*model.WorkflowRun),
		steps:       make(map[int64]*model.RunStep),
		stepConfigs: make(map[int64]*model.StepConfig),
		checkins:    make(map[string]*model.WorkerCheckin),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Close() error { return nil }

// --- BatchStore ---

func (s *Store) CreateBatch(ctx context.Context, b *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextIDLocked()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "batch", ID: itoa(id)}
	}
	cp := *b
	return &cp, nil
}

func (s *Store) CompleteBatch(ctx context.Context, id int64, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "batch", ID: itoa(id)}
	}
	b.CompletedAt = &completedAt
	return nil
}

// --- DocumentStore ---

func (s *Store) UpsertDocument(ctx context.Context, doc *model.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.Hash]; exists {
		return false, nil
	}
	cp := *doc
	s.documents[doc.Hash] = &cp
	return true, nil
}

func (s *Store) GetDocument(ctx context.Context, hash string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[hash]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "document", ID: hash}
	}
	cp := *d
	return &cp, nil
}

func (s *Store) DeleteDocument(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[hash]; !ok {
		return &ingestererrors.NotFoundError{Resource: "document", ID: hash}
	}
	delete(s.documents, hash)
	return nil
}

func uriKey(uri, source string) string { return uri + "\x00" + source }

func (s *Store) GetURI(ctx context.Context, uri, source string) (*model.DocumentURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.uris[uriKey(uri, source)]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "document_uri", ID: uri}
	}
	cp := *d
	return &cp, nil
}

func (s *Store) UpsertURI(ctx context.Context, uri, source, hash string, batchID int64) (store.URIUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := uriKey(uri, source)

	existing, ok := s.uris[key]
	if !ok {
		row := &model.DocumentURI{
			ID:           s.nextIDLocked(),
			URI:          uri,
			Source:       source,
			DocumentHash: hash,
			Version:      1,
			BatchID:      batchID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.uris[key] = row
		s.uriHistory = append(s.uriHistory, &model.DocumentURIHistory{
			ID:            s.nextIDLocked(),
			DocumentURIID: row.ID,
			Version:       1,
			DocumentHash:  hash,
			Action:        model.URICreated,
			BatchID:       batchID,
			CreatedAt:     now,
		})
		cp := *row
		return store.URIUpsertResult{Created: true, DocumentURI: &cp}, nil
	}

	if existing.DocumentHash == hash {
		priorBatch := existing.BatchID
		cp := *existing
		return store.URIUpsertResult{Created: false, Changed: false, PriorBatchID: priorBatch, DocumentURI: &cp}, nil
	}

	existing.DocumentHash = hash
	existing.Version++
	existing.BatchID = batchID
	existing.UpdatedAt = now
	s.uriHistory = append(s.uriHistory, &model.DocumentURIHistory{
		ID:            s.nextIDLocked(),
		DocumentURIID: existing.ID,
		Version:       existing.Version,
		DocumentHash:  hash,
		Action:        model.URIUpdated,
		BatchID:       batchID,
		CreatedAt:     now,
	})
	cp := *existing
	return store.URIUpsertResult{Created: false, Changed: true, DocumentURI: &cp}, nil
}

func (s *Store) DeleteURI(ctx context.Context, uri, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := uriKey(uri, source)
	row, ok := s.uris[key]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "document_uri", ID: uri}
	}
	now := time.Now()
	s.uriHistory = append(s.uriHistory, &model.DocumentURIHistory{
		ID:            s.nextIDLocked(),
		DocumentURIID: row.ID,
		Version:       row.Version,
		DocumentHash:  row.DocumentHash,
		Action:        model.URIDeleted,
		BatchID:       row.BatchID,
		CreatedAt:     now,
	})
	delete(s.uris, key)
	return nil
}

func (s *Store) CountURIsForHash(ctx context.Context, hash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, u := range s.uris {
		if u.DocumentHash == hash {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListURIsForSource(ctx context.Context, source string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, u := range s.uris {
		if u.Source == source {
			out[u.URI] = u.DocumentHash
		}
	}
	return out, nil
}

// --- GroupStore ---

func (s *Store) CreateGroup(ctx context.Context, g *model.RunGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.nextIDLocked()
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (*model.RunGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "run_group", ID: itoa(id)}
	}
	cp := *g
	return &cp, nil
}

func (s *Store) ListGroups(ctx context.Context, filter store.GroupFilter) ([]*model.RunGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RunGroup
	for _, g := range s.groups {
		if filter.BatchID != 0 && g.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) UpdateGroupStatus(ctx context.Context, id int64, status model.GroupStatus, message string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "run_group", ID: itoa(id)}
	}
	g.Status = status
	g.StatusMessage = message
	g.StatusMetadata = metadata
	if status == model.GroupRunning && g.StartedAt == nil {
		now := time.Now()
		g.StartedAt = &now
	}
	if status.Terminal() && g.CompletedAt == nil {
		now := time.Now()
		g.CompletedAt = &now
	}
	return nil
}

// --- RunStore ---

func (s *Store) CreateRun(ctx context.Context, r *model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextIDLocked()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (*model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "workflow_run", ID: itoa(id)}
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRunsForGroup(ctx context.Context, groupID int64) ([]*model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkflowRun
	for _, r := range s.runs {
		if r.GroupID == groupID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountNonTerminalRuns(ctx context.Context, groupID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.runs {
		if r.GroupID == groupID && !r.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountFailedRuns(ctx context.Context, groupID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.runs {
		if r.GroupID == groupID && r.Status == model.RunFailed {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id int64, status model.RunStatus, message string, metadata map[string]any, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "workflow_run", ID: itoa(id)}
	}
	r.Status = status
	r.StatusMessage = message
	r.StatusMetadata = metadata
	if completedAt != nil {
		r.CompletedAt = completedAt
	}
	if status == model.RunRunning && r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	return nil
}

// --- StepConfigStore ---

func (s *Store) CreateStepConfig(ctx context.Context, cfg *model.StepConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.ID = s.nextIDLocked()
	cp := *cfg
	s.stepConfigs[cfg.ID] = &cp
	return cfg.ID, nil
}

func (s *Store) GetStepConfig(ctx context.Context, id int64) (*model.StepConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.stepConfigs[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "step_config", ID: itoa(id)}
	}
	cp := *c
	return &cp, nil
}

// --- ClaimStore ---

// ClaimSteps implements the claim predicate from spec §4.5.a in-process.
// Lock ordering matches the production backends: priority desc, created
// time asc, run id asc.
func (s *Store) ClaimSteps(ctx context.Context, workerID string, limit int) ([]*model.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	runningByRun := make(map[int64]bool)
	completedByRunStep := make(map[[2]int64]bool) // [runID, stepNumber] -> completed
	for _, st := range s.steps {
		if st.Status == model.StepRunning {
			runningByRun[st.RunID] = true
		}
		if st.Status == model.StepCompleted {
			completedByRunStep[[2]int64{st.RunID, int64(st.StepNumber)}] = true
		}
	}

	var eligible []*model.RunStep
	for _, st := range s.steps {
		if st.Status != model.StepPending {
			continue
		}
		if st.NotBefore != nil && st.NotBefore.After(now) {
			continue
		}
		if runningByRun[st.RunID] {
			continue
		}
		if st.StepNumber > 1 && !completedByRunStep[[2]int64{st.RunID, int64(st.StepNumber) - 1}] {
			continue
		}
		eligible = append(eligible, st)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		run := func(id int64) *model.WorkflowRun { return s.runs[id] }
		pa, pb := run(a.RunID).Priority, run(b.RunID).Priority
		if pa != pb {
			return pa > pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.RunID < b.RunID
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*model.RunStep, 0, len(eligible))
	for _, st := range eligible {
		st.Status = model.StepRunning
		st.WorkerID = workerID
		st.StartedAt = &now
		// prevent a second claimable sibling from the same run in this batch
		runningByRun[st.RunID] = true
		cp := *st
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// --- StepStore ---

// CreateStep inserts the first RunStep (step_number 1) of a newly
// created WorkflowRun.
func (s *Store) CreateStep(ctx context.Context, step *model.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.ID = s.nextIDLocked()
	step.Status = model.StepPending
	step.CreatedAt = time.Now()
	cp := *step
	s.steps[step.ID] = &cp
	return nil
}

func (s *Store) GetStep(ctx context.Context, id int64) (*model.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, &ingestererrors.NotFoundError{Resource: "run_step", ID: itoa(id)}
	}
	cp := *st
	return &cp, nil
}

func (s *Store) ListStepsForRun(ctx context.Context, runID int64) ([]*model.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RunStep
	for _, st := range s.steps {
		if st.RunID == runID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) CompleteStep(ctx context.Context, stepID int64, next *model.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "run_step", ID: itoa(stepID)}
	}
	now := time.Now()
	st.Status = model.StepCompleted
	st.CompletedAt = &now
	if next != nil {
		next.ID = s.nextIDLocked()
		next.Status = model.StepPending
		next.CreatedAt = now
		cp := *next
		s.steps[next.ID] = &cp
	}
	return nil
}

func (s *Store) RetryStep(ctx context.Context, stepID int64, notBefore time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "run_step", ID: itoa(stepID)}
	}
	st.Retry++
	st.Status = model.StepPending
	st.WorkerID = ""
	st.NotBefore = &notBefore
	st.StatusMessage = message
	return nil
}

func (s *Store) FailStep(ctx context.Context, stepID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return &ingestererrors.NotFoundError{Resource: "run_step", ID: itoa(stepID)}
	}
	now := time.Now()
	st.Status = model.StepFailed
	st.StatusMessage = message
	st.CompletedAt = &now
	return nil
}

func (s *Store) ReclaimStaleSteps(ctx context.Context, staleWorkerIDs []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := make(map[string]bool, len(staleWorkerIDs))
	for _, id := range staleWorkerIDs {
		stale[id] = true
	}
	var reclaimed []int64
	for _, st := range s.steps {
		if st.Status == model.StepRunning && stale[st.WorkerID] {
			st.Status = model.StepPending
			st.WorkerID = ""
			reclaimed = append(reclaimed, st.ID)
		}
	}
	return reclaimed, nil
}

// --- WorkerCheckinStore ---

func (s *Store) Heartbeat(ctx context.Context, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck, ok := s.checkins[workerID]
	if !ok {
		s.checkins[workerID] = &model.WorkerCheckin{WorkerID: workerID, FirstSeen: now, LastSeen: now}
		return nil
	}
	ck.LastSeen = now
	return nil
}

func (s *Store) ListStaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, ck := range s.checkins {
		if now.Sub(ck.LastSeen) > threshold {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkins, workerID)
	return nil
}

// --- LifecycleStore ---

func (s *Store) AppendEvent(ctx context.Context, event *model.LifecycleHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.nextIDLocked()
	cp := *event
	s.lifecycle = append(s.lifecycle, &cp)
	return nil
}

func (s *Store) ListEventsForGroup(ctx context.Context, groupID int64) ([]*model.LifecycleHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.LifecycleHistory
	for _, e := range s.lifecycle {
		if e.GroupID == groupID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- CascadeStore ---

func (s *Store) DeleteRunGroup(ctx context.Context, id int64) (map[string]int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return nil, 0, &ingestererrors.NotFoundError{Resource: "run_group", ID: itoa(id)}
	}

	counts := map[string]int{"run_steps": 0, "lifecycle_history": 0, "workflow_runs": 0, "run_groups": 1}
	var runIDs []int64
	for rid, r := range s.runs {
		if r.GroupID == id {
			runIDs = append(runIDs, rid)
		}
	}
	runSet := make(map[int64]bool, len(runIDs))
	for _, rid := range runIDs {
		runSet[rid] = true
	}

	for sid, st := range s.steps {
		if runSet[st.RunID] {
			delete(s.steps, sid)
			counts["run_steps"]++
		}
	}

	kept := s.lifecycle[:0]
	for _, e := range s.lifecycle {
		if e.GroupID == id {
			counts["lifecycle_history"]++
			continue
		}
		kept = append(kept, e)
	}
	s.lifecycle = kept

	for _, rid := range runIDs {
		delete(s.runs, rid)
		counts["workflow_runs"]++
	}
	delete(s.groups, id)

	total := 0
	for _, c := range counts {
		total += c
	}
	return counts, total, nil
}

func (s *Store) DeleteDocumentURI(ctx context.Context, uri, source string) (map[string]int, int, error) {
	s.mu.Lock()
	key := uriKey(uri, source)
	row, ok := s.uris[key]
	if !ok {
		s.mu.Unlock()
		return nil, 0, &ingestererrors.NotFoundError{Resource: "document_uri", ID: uri}
	}
	hash := row.DocumentHash

	counts := map[string]int{"document_uri_history": 0, "document_uris": 1}

	remaining := 0
	for _, u := range s.uris {
		if u.DocumentHash == row.DocumentHash {
			remaining++
		}
	}
	deleter := s.artifactDeleter
	s.mu.Unlock()

	// Delete artifacts before mutating any in-memory state, the same
	// ordering the sqlite/postgres backends use before tx.Commit, so a
	// failed artifact delete leaves the store rows untouched rather than
	// orphaning them.
	if remaining == 1 && deleter != nil {
		artifacts, err := deleter(ctx, hash)
		if err != nil {
			return nil, 0, ingestererrors.Wrap(err, "deleting artifacts for document")
		}
		counts["artifacts"] = artifacts
	}

	s.mu.Lock()
	if remaining == 1 {
		counts["run_steps"] = 0
		counts["lifecycle_history"] = 0
		counts["workflow_runs"] = 0
		counts["documents"] = 1

		var runIDs []int64
		for rid, r := range s.runs {
			if r.DocumentHash == row.DocumentHash {
				runIDs = append(runIDs, rid)
			}
		}
		runSet := make(map[int64]bool, len(runIDs))
		for _, rid := range runIDs {
			runSet[rid] = true
		}
		for sid, st := range s.steps {
			if runSet[st.RunID] {
				delete(s.steps, sid)
				counts["run_steps"]++
			}
		}
		groupIDs := make(map[int64]bool)
		for _, rid := range runIDs {
			if r, ok := s.runs[rid]; ok {
				groupIDs[r.GroupID] = true
			}
		}
		kept := s.lifecycle[:0]
		for _, e := range s.lifecycle {
			if e.RunID != nil && runSet[*e.RunID] {
				counts["lifecycle_history"]++
				continue
			}
			kept = append(kept, e)
		}
		s.lifecycle = kept
		for _, rid := range runIDs {
			delete(s.runs, rid)
			counts["workflow_runs"]++
		}
		delete(s.documents, row.DocumentHash)
	}

	keptHistory := s.uriHistory[:0]
	for _, h := range s.uriHistory {
		if h.DocumentURIID == row.ID {
			counts["document_uri_history"]++
			continue
		}
		keptHistory = append(keptHistory, h)
	}
	s.uriHistory = keptHistory
	delete(s.uris, key)
	s.mu.Unlock()

	total := 0
	for _, c := range counts {
		total += c
	}
	return counts, total, nil
}

func paginate(rows []*model.RunGroup, offset, limit int) []*model.RunGroup {
	if offset > len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
