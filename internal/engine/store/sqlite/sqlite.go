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

// Package sqlite provides the embedded single-writer store backend
// (spec §4.2), suitable for development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soliplex/ingester/internal/engine/model"
	"github.com/soliplex/ingester/internal/engine/store"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*Store)(nil)

// ArtifactDeleter removes every artifact blob for a content hash. The
// Store calls it from DeleteDocumentURI when a Document loses its last
// DocumentURI reference (spec §4.8), so the cascade reaches the Artifact
// Store without this package importing any particular backend.
type ArtifactDeleter func(ctx context.Context, hash string) (int, error)

// Store is a SQLite-backed store.Store.
type Store struct {
	db              *sql.DB
	artifactDeleter ArtifactDeleter
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. Use ":memory:" for tests.
	Path string

	// WAL enables Write-Ahead Logging for concurrent readers alongside
	// the single writer.
	WAL bool
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithArtifactDeleter wires the Artifact Store into the Document-deletion
// cascade (spec §4.8).
func WithArtifactDeleter(d ArtifactDeleter) Option {
	return func(s *Store) { s.artifactDeleter = d }
}

// New opens (creating if absent) a SQLite database at cfg.Path, applies
// pragmas, and runs migrations.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "opening sqlite database")
	}

	// SQLite serializes writes; cap the pool at one connection so the
	// driver never hands out a second writer that would just block.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ingestererrors.Wrap(err, "connecting to sqlite database")
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return ingestererrors.Wrapf(err, "executing %s", pragma)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			source_tag TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			parameters TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			hash TEXT PRIMARY KEY,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS document_uris (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uri TEXT NOT NULL,
			source TEXT NOT NULL,
			document_hash TEXT NOT NULL,
			version INTEGER NOT NULL,
			batch_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(uri, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_uris_hash ON document_uris(document_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_document_uris_source ON document_uris(source)`,
		`CREATE TABLE IF NOT EXISTS document_uri_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_uri_id INTEGER NOT NULL,
			version INTEGER NOT NULL,
			document_hash TEXT NOT NULL,
			action TEXT NOT NULL,
			batch_id INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_uri_history_uri ON document_uri_history(document_uri_id)`,
		`CREATE TABLE IF NOT EXISTS document_bytes (
			hash TEXT NOT NULL,
			kind TEXT NOT NULL,
			storage_root TEXT NOT NULL,
			data BLOB,
			byte_count INTEGER NOT NULL,
			PRIMARY KEY (hash, kind, storage_root)
		)`,
		`CREATE TABLE IF NOT EXISTS run_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			parameter_set_id TEXT NOT NULL,
			batch_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT,
			status_metadata TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_groups_batch ON run_groups(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_groups_status ON run_groups(status)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			batch_id INTEGER NOT NULL,
			document_hash TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			status_message TEXT,
			status_metadata TEXT,
			run_parameters TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			FOREIGN KEY (group_id) REFERENCES run_groups(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_group ON workflow_runs(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)`,
		`CREATE TABLE IF NOT EXISTS step_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			step_type TEXT NOT NULL,
			config TEXT,
			cumulative_config TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			step_number INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			step_type TEXT NOT NULL,
			handler_ref TEXT NOT NULL,
			step_config_id INTEGER NOT NULL,
			is_last INTEGER NOT NULL DEFAULT 0,
			retry INTEGER NOT NULL DEFAULT 0,
			retry_limit INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			status_message TEXT,
			worker_id TEXT,
			not_before INTEGER,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			UNIQUE(run_id, step_number),
			FOREIGN KEY (run_id) REFERENCES workflow_runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_claim ON run_steps(status, not_before)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_worker ON run_steps(worker_id)`,
		`CREATE TABLE IF NOT EXISTS worker_checkins (
			worker_id TEXT PRIMARY KEY,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lifecycle_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_kind TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			run_id INTEGER,
			step_id INTEGER,
			status TEXT NOT NULL,
			message TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_group ON lifecycle_history(group_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return ingestererrors.Wrapf(err, "running migration %q", migration)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- time / JSON helpers, grounded on the teacher's formatTime/nullString pattern ---

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// not_before is compared with a plain "<=" in ClaimSteps, so it cannot use
// the RFC3339Nano strings formatTime produces: that format drops the
// fractional seconds (and the trailing '.') when they're zero, which
// breaks lexicographic ordering against timestamps that do carry a
// fraction. Store it as unix nanoseconds instead, so string comparison
// and temporal comparison agree.
func formatClaimTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func parseClaimTime(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.Unix(0, ni.Int64).UTC()
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func notFound(resource, id string) error {
	return &ingestererrors.NotFoundError{Resource: resource, ID: id}
}

func idStr(id int64) string { return fmt.Sprintf("%d", id) }

// --- Batch ---

func (s *Store) CreateBatch(ctx context.Context, batch *model.Batch) error {
	params, err := marshalMap(batch.Parameters)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling batch parameters")
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (name, source_tag, started_at, completed_at, parameters) VALUES (?, ?, ?, ?, ?)`,
		batch.Name, batch.SourceTag, formatTime(&batch.StartedAt), formatTime(batch.CompletedAt), params,
	)
	if err != nil {
		return ingestererrors.Wrap(err, "creating batch")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ingestererrors.Wrap(err, "reading new batch id")
	}
	batch.ID = id
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source_tag, started_at, completed_at, parameters FROM batches WHERE id = ?`, id)

	var b model.Batch
	var startedAt, completedAt, params sql.NullString
	if err := row.Scan(&b.ID, &b.Name, &b.SourceTag, &startedAt, &completedAt, &params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("batch", idStr(id))
		}
		return nil, ingestererrors.Wrap(err, "reading batch")
	}

	if t, err := parseTime(startedAt); err == nil && t != nil {
		b.StartedAt = *t
	}
	if b.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, ingestererrors.Wrap(err, "parsing batch completed_at")
	}
	if b.Parameters, err = unmarshalMap(params); err != nil {
		return nil, ingestererrors.Wrap(err, "unmarshaling batch parameters")
	}
	return &b, nil
}

func (s *Store) CompleteBatch(ctx context.Context, id int64, completedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE batches SET completed_at = ? WHERE id = ?`, formatTime(&completedAt), id)
	if err != nil {
		return ingestererrors.Wrap(err, "completing batch")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("batch", idStr(id))
	}
	return nil
}

// --- Document / DocumentURI ---

func (s *Store) UpsertDocument(ctx context.Context, doc *model.Document) (bool, error) {
	metadata, err := marshalMap(doc.Metadata)
	if err != nil {
		return false, ingestererrors.Wrap(err, "marshaling document metadata")
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (hash, mime_type, size, metadata) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		doc.Hash, doc.MimeType, doc.Size, metadata,
	)
	if err != nil {
		return false, ingestererrors.Wrap(err, "upserting document")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, ingestererrors.Wrap(err, "counting document upsert")
	}
	return affected > 0, nil
}

func (s *Store) GetDocument(ctx context.Context, hash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT hash, mime_type, size, metadata FROM documents WHERE hash = ?`, hash)

	var d model.Document
	var metadata sql.NullString
	if err := row.Scan(&d.Hash, &d.MimeType, &d.Size, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("document", hash)
		}
		return nil, ingestererrors.Wrap(err, "reading document")
	}
	var err error
	if d.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, ingestererrors.Wrap(err, "unmarshaling document metadata")
	}
	return &d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, hash string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE hash = ?`, hash)
	if err != nil {
		return ingestererrors.Wrap(err, "deleting document")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("document", hash)
	}
	return nil
}

func (s *Store) GetURI(ctx context.Context, uri, source string) (*model.DocumentURI, error) {
	return s.getURITx(ctx, s.db, uri, source)
}

func (s *Store) getURITx(ctx context.Context, q querier, uri, source string) (*model.DocumentURI, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, uri, source, document_hash, version, batch_id, created_at, updated_at
		 FROM document_uris WHERE uri = ? AND source = ?`, uri, source)

	var d model.DocumentURI
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&d.ID, &d.URI, &d.Source, &d.DocumentHash, &d.Version, &d.BatchID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("document_uri", uri)
		}
		return nil, ingestererrors.Wrap(err, "reading document uri")
	}
	if t, err := parseTime(createdAt); err == nil && t != nil {
		d.CreatedAt = *t
	}
	if t, err := parseTime(updatedAt); err == nil && t != nil {
		d.UpdatedAt = *t
	}
	return &d, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) UpsertURI(ctx context.Context, uri, source, hash string, batchID int64) (store.URIUpsertResult, error) {
	var result store.URIUpsertResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, ingestererrors.Wrap(err, "beginning upsert-uri transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	existing, err := s.getURITx(ctx, tx, uri, source)
	if err != nil {
		var nfe *ingestererrors.NotFoundError
		if !errors.As(err, &nfe) {
			return result, err
		}
		existing = nil
	}

	if existing == nil {
		insert, err := tx.ExecContext(ctx,
			`INSERT INTO document_uris (uri, source, document_hash, version, batch_id, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?, ?)`,
			uri, source, hash, batchID, formatTime(&now), formatTime(&now),
		)
		if err != nil {
			return result, ingestererrors.Wrap(err, "inserting document uri")
		}
		id, err := insert.LastInsertId()
		if err != nil {
			return result, ingestererrors.Wrap(err, "reading new document uri id")
		}
		if err := s.appendURIHistoryTx(ctx, tx, id, 1, hash, model.URICreated, batchID, now); err != nil {
			return result, err
		}
		if err := tx.Commit(); err != nil {
			return result, ingestererrors.Wrap(err, "committing upsert-uri transaction")
		}
		result.Created = true
		result.Changed = true
		result.DocumentURI = &model.DocumentURI{ID: id, URI: uri, Source: source, DocumentHash: hash, Version: 1, BatchID: batchID, CreatedAt: now, UpdatedAt: now}
		return result, nil
	}

	result.PriorBatchID = existing.BatchID
	if existing.DocumentHash == hash {
		result.DocumentURI = existing
		return result, tx.Commit()
	}

	newVersion := existing.Version + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE document_uris SET document_hash = ?, version = ?, batch_id = ?, updated_at = ? WHERE id = ?`,
		hash, newVersion, batchID, formatTime(&now), existing.ID,
	); err != nil {
		return result, ingestererrors.Wrap(err, "updating document uri")
	}
	if err := s.appendURIHistoryTx(ctx, tx, existing.ID, newVersion, hash, model.URIUpdated, batchID, now); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, ingestererrors.Wrap(err, "committing upsert-uri transaction")
	}
	existing.DocumentHash = hash
	existing.Version = newVersion
	existing.BatchID = batchID
	existing.UpdatedAt = now
	result.Changed = true
	result.DocumentURI = existing
	return result, nil
}

func (s *Store) appendURIHistoryTx(ctx context.Context, tx *sql.Tx, uriID int64, version int64, hash string, action model.URIHistoryAction, batchID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO document_uri_history (document_uri_id, version, document_hash, action, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uriID, version, hash, string(action), batchID, formatTime(&at),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "appending document uri history")
	}
	return nil
}

func (s *Store) DeleteURI(ctx context.Context, uri, source string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_uris WHERE uri = ? AND source = ?`, uri, source)
	if err != nil {
		return ingestererrors.Wrap(err, "deleting document uri")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("document_uri", uri)
	}
	return nil
}

func (s *Store) CountURIsForHash(ctx context.Context, hash string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_uris WHERE document_hash = ?`, hash).Scan(&count); err != nil {
		return 0, ingestererrors.Wrap(err, "counting document uris for hash")
	}
	return count, nil
}

func (s *Store) ListURIsForSource(ctx context.Context, source string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri, document_hash FROM document_uris WHERE source = ?`, source)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing document uris for source")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var uri, hash string
		if err := rows.Scan(&uri, &hash); err != nil {
			return nil, ingestererrors.Wrap(err, "scanning document uri")
		}
		out[uri] = hash
	}
	return out, rows.Err()
}

// --- RunGroup ---

func (s *Store) CreateGroup(ctx context.Context, group *model.RunGroup) error {
	metadata, err := marshalMap(group.StatusMetadata)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling group status metadata")
	}
	now := time.Now()
	group.CreatedAt = now
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO run_groups (name, workflow_id, parameter_set_id, batch_id, status, status_message, status_metadata, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.Name, group.WorkflowID, group.ParameterSetID, group.BatchID, string(group.Status),
		nullString(group.StatusMessage), metadata, formatTime(&now), formatTime(group.StartedAt), formatTime(group.CompletedAt),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "creating run group")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ingestererrors.Wrap(err, "reading new run group id")
	}
	group.ID = id
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (*model.RunGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, workflow_id, parameter_set_id, batch_id, status, status_message, status_metadata, created_at, started_at, completed_at
		 FROM run_groups WHERE id = ?`, id)
	return scanGroup(row)
}

func scanGroup(row *sql.Row) (*model.RunGroup, error) {
	var g model.RunGroup
	var status string
	var message, metadata, createdAt, startedAt, completedAt sql.NullString
	if err := row.Scan(&g.ID, &g.Name, &g.WorkflowID, &g.ParameterSetID, &g.BatchID, &status, &message, &metadata, &createdAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("run_group", "")
		}
		return nil, ingestererrors.Wrap(err, "reading run group")
	}
	g.Status = model.GroupStatus(status)
	g.StatusMessage = message.String
	var err error
	if g.StatusMetadata, err = unmarshalMap(metadata); err != nil {
		return nil, ingestererrors.Wrap(err, "unmarshaling group status metadata")
	}
	if t, err := parseTime(createdAt); err == nil && t != nil {
		g.CreatedAt = *t
	}
	if g.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if g.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context, filter store.GroupFilter) ([]*model.RunGroup, error) {
	query := `SELECT id, name, workflow_id, parameter_set_id, batch_id, status, status_message, status_metadata, created_at, started_at, completed_at
		FROM run_groups WHERE 1=1`
	var args []any
	if filter.BatchID != 0 {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing run groups")
	}
	defer rows.Close()

	var groups []*model.RunGroup
	for rows.Next() {
		var g model.RunGroup
		var status string
		var message, metadata, createdAt, startedAt, completedAt sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.WorkflowID, &g.ParameterSetID, &g.BatchID, &status, &message, &metadata, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, ingestererrors.Wrap(err, "scanning run group")
		}
		g.Status = model.GroupStatus(status)
		g.StatusMessage = message.String
		if g.StatusMetadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		if t, err := parseTime(createdAt); err == nil && t != nil {
			g.CreatedAt = *t
		}
		if g.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if g.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *Store) UpdateGroupStatus(ctx context.Context, id int64, status model.GroupStatus, message string, metadata map[string]any) error {
	meta, err := marshalMap(metadata)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling group status metadata")
	}
	now := time.Now()
	var startedClause string
	args := []any{string(status), nullString(message), meta}
	if status == model.GroupRunning {
		startedClause = ", started_at = COALESCE(started_at, ?)"
		args = append(args, formatTime(&now))
	}
	var completedClause string
	if status.Terminal() {
		completedClause = ", completed_at = ?"
		args = append(args, formatTime(&now))
	}
	args = append(args, id)

	query := `UPDATE run_groups SET status = ?, status_message = ?, status_metadata = ?` + startedClause + completedClause + ` WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ingestererrors.Wrap(err, "updating run group status")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("run_group", idStr(id))
	}
	return nil
}

// --- WorkflowRun ---

func (s *Store) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	metadata, err := marshalMap(run.StatusMetadata)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling run status metadata")
	}
	params, err := marshalMap(run.RunParameters)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling run parameters")
	}
	now := time.Now()
	run.CreatedAt = now
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (workflow_id, group_id, batch_id, document_hash, priority, status, status_message, status_metadata, run_parameters, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.WorkflowID, run.GroupID, run.BatchID, run.DocumentHash, run.Priority, string(run.Status),
		nullString(run.StatusMessage), metadata, params, formatTime(&now), formatTime(run.StartedAt), formatTime(run.CompletedAt),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "creating workflow run")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ingestererrors.Wrap(err, "reading new workflow run id")
	}
	run.ID = id
	return nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (*model.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, group_id, batch_id, document_hash, priority, status, status_message, status_metadata, run_parameters, created_at, started_at, completed_at
		 FROM workflow_runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var status string
	var message, metadata, params, createdAt, startedAt, completedAt sql.NullString
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.GroupID, &r.BatchID, &r.DocumentHash, &r.Priority, &status, &message, &metadata, &params, &createdAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("workflow_run", "")
		}
		return nil, ingestererrors.Wrap(err, "reading workflow run")
	}
	r.Status = model.RunStatus(status)
	r.StatusMessage = message.String
	var err error
	if r.StatusMetadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}
	if r.RunParameters, err = unmarshalMap(params); err != nil {
		return nil, err
	}
	if t, err := parseTime(createdAt); err == nil && t != nil {
		r.CreatedAt = *t
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRunsForGroup(ctx context.Context, groupID int64) ([]*model.WorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, group_id, batch_id, document_hash, priority, status, status_message, status_metadata, run_parameters, created_at, started_at, completed_at
		 FROM workflow_runs WHERE group_id = ? ORDER BY id ASC`, groupID)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing runs for group")
	}
	defer rows.Close()

	var runs []*model.WorkflowRun
	for rows.Next() {
		var r model.WorkflowRun
		var status string
		var message, metadata, params, createdAt, startedAt, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.GroupID, &r.BatchID, &r.DocumentHash, &r.Priority, &status, &message, &metadata, &params, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, ingestererrors.Wrap(err, "scanning workflow run")
		}
		r.Status = model.RunStatus(status)
		r.StatusMessage = message.String
		var err error
		if r.StatusMetadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		if r.RunParameters, err = unmarshalMap(params); err != nil {
			return nil, err
		}
		if t, err := parseTime(createdAt); err == nil && t != nil {
			r.CreatedAt = *t
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func (s *Store) CountNonTerminalRuns(ctx context.Context, groupID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_runs WHERE group_id = ? AND status NOT IN (?, ?)`,
		groupID, string(model.RunCompleted), string(model.RunFailed),
	).Scan(&count)
	if err != nil {
		return 0, ingestererrors.Wrap(err, "counting non-terminal runs")
	}
	return count, nil
}

func (s *Store) CountFailedRuns(ctx context.Context, groupID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_runs WHERE group_id = ? AND status = ?`, groupID, string(model.RunFailed),
	).Scan(&count)
	if err != nil {
		return 0, ingestererrors.Wrap(err, "counting failed runs")
	}
	return count, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id int64, status model.RunStatus, message string, metadata map[string]any, completedAt *time.Time) error {
	meta, err := marshalMap(metadata)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling run status metadata")
	}
	now := time.Now()
	args := []any{string(status), nullString(message), meta}
	var startedClause string
	if status == model.RunRunning {
		startedClause = ", started_at = COALESCE(started_at, ?)"
		args = append(args, formatTime(&now))
	}
	var completedClause string
	if completedAt != nil {
		completedClause = ", completed_at = ?"
		args = append(args, formatTime(completedAt))
	}
	args = append(args, id)

	query := `UPDATE workflow_runs SET status = ?, status_message = ?, status_metadata = ?` + startedClause + completedClause + ` WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ingestererrors.Wrap(err, "updating workflow run status")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("workflow_run", idStr(id))
	}
	return nil
}

// --- StepConfig ---

func (s *Store) CreateStepConfig(ctx context.Context, cfg *model.StepConfig) (int64, error) {
	config, err := marshalMap(cfg.Config)
	if err != nil {
		return 0, ingestererrors.Wrap(err, "marshaling step config")
	}
	cumulative, err := marshalMap(cfg.CumulativeConfig)
	if err != nil {
		return 0, ingestererrors.Wrap(err, "marshaling cumulative step config")
	}
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO step_configs (step_type, config, cumulative_config, created_at) VALUES (?, ?, ?, ?)`,
		string(cfg.StepType), config, cumulative, formatTime(&now),
	)
	if err != nil {
		return 0, ingestererrors.Wrap(err, "creating step config")
	}
	return result.LastInsertId()
}

func (s *Store) GetStepConfig(ctx context.Context, id int64) (*model.StepConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, step_type, config, cumulative_config, created_at FROM step_configs WHERE id = ?`, id)

	var c model.StepConfig
	var stepType string
	var config, cumulative, createdAt sql.NullString
	if err := row.Scan(&c.ID, &stepType, &config, &cumulative, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("step_config", idStr(id))
		}
		return nil, ingestererrors.Wrap(err, "reading step config")
	}
	c.StepType = model.StepType(stepType)
	var err error
	if c.Config, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	if c.CumulativeConfig, err = unmarshalMap(cumulative); err != nil {
		return nil, err
	}
	if t, err := parseTime(createdAt); err == nil && t != nil {
		c.CreatedAt = *t
	}
	return &c, nil
}

// --- RunStep / claim / advance ---

func scanStep(row interface{ Scan(...any) error }) (*model.RunStep, error) {
	var st model.RunStep
	var stepType, status string
	var message, workerID, createdAt, startedAt, completedAt sql.NullString
	var notBefore sql.NullInt64
	var isLast int
	if err := row.Scan(
		&st.ID, &st.RunID, &st.StepNumber, &st.StepName, &stepType, &st.HandlerRef, &st.StepConfigID,
		&isLast, &st.Retry, &st.RetryLimit, &status, &message, &workerID, &notBefore,
		&createdAt, &startedAt, &completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("run_step", "")
		}
		return nil, ingestererrors.Wrap(err, "reading run step")
	}
	st.StepType = model.StepType(stepType)
	st.Status = model.StepStatus(status)
	st.IsLast = isLast != 0
	st.StatusMessage = message.String
	st.WorkerID = workerID.String
	st.NotBefore = parseClaimTime(notBefore)
	var err error
	if t, err := parseTime(createdAt); err == nil && t != nil {
		st.CreatedAt = *t
	}
	if st.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if st.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

const stepColumns = `id, run_id, step_number, step_name, step_type, handler_ref, step_config_id,
	is_last, retry, retry_limit, status, status_message, worker_id, not_before,
	created_at, started_at, completed_at`

func (s *Store) GetStep(ctx context.Context, id int64) (*model.RunStep, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM run_steps WHERE id = ?`, id)
	return scanStep(row)
}

func (s *Store) ListStepsForRun(ctx context.Context, runID int64) ([]*model.RunStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? ORDER BY step_number ASC`, runID)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing steps for run")
	}
	defer rows.Close()

	var steps []*model.RunStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ClaimSteps implements the claim predicate of spec §4.5.a. SQLite has a
// single writer connection (SetMaxOpenConns(1)), so the candidate select
// and the per-row conditional UPDATE never race with another writer in
// this process; the WHERE status = 'PENDING' guard on the UPDATE is kept
// anyway so the same query plan works unchanged against store/postgres.
func (s *Store) ClaimSteps(ctx context.Context, workerID string, limit int) ([]*model.RunStep, error) {
	now := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rs.id FROM run_steps rs
		JOIN workflow_runs wr ON wr.id = rs.run_id
		WHERE rs.status = ?
		  AND (rs.not_before IS NULL OR rs.not_before <= ?)
		  AND NOT EXISTS (
		      SELECT 1 FROM run_steps sib WHERE sib.run_id = rs.run_id AND sib.status = ?
		  )
		  AND (
		      rs.step_number = 1
		      OR EXISTS (
		          SELECT 1 FROM run_steps pred
		          WHERE pred.run_id = rs.run_id AND pred.step_number = rs.step_number - 1 AND pred.status = ?
		      )
		  )
		ORDER BY wr.priority DESC, rs.created_at ASC, rs.run_id ASC
		LIMIT ?
	`, string(model.StepPending), formatClaimTime(&now), string(model.StepRunning), string(model.StepCompleted), limit)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "selecting claim candidates")
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, ingestererrors.Wrap(err, "scanning claim candidate")
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*model.RunStep
	for _, id := range candidates {
		result, err := s.db.ExecContext(ctx,
			`UPDATE run_steps SET status = ?, worker_id = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(model.StepRunning), workerID, formatTime(&now), id, string(model.StepPending),
		)
		if err != nil {
			return nil, ingestererrors.Wrap(err, "claiming step")
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			continue // lost the race (postgres) or predicate went stale between select and claim
		}
		step, err := s.GetStep(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, step)
	}
	return claimed, nil
}

// CreateStep inserts the first RunStep (step_number 1) of a newly
// created WorkflowRun.
func (s *Store) CreateStep(ctx context.Context, step *model.RunStep) error {
	return ingestererrors.Wrap(insertStepTx(ctx, s.db, step, time.Now()), "creating first run step")
}

func (s *Store) CompleteStep(ctx context.Context, stepID int64, next *model.RunStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingestererrors.Wrap(err, "beginning complete-step transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.StepCompleted), formatTime(&now), stepID, string(model.StepRunning),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "completing step")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &ingestererrors.EngineInvariantError{Invariant: "step-running-to-complete", Detail: fmt.Sprintf("step %d was not RUNNING", stepID)}
	}

	if next != nil {
		if err := insertStepTx(ctx, tx, next, now); err != nil {
			return err
		}
	}
	return ingestererrors.Wrap(tx.Commit(), "committing complete-step transaction")
}

func insertStepTx(ctx context.Context, tx querier, st *model.RunStep, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step_number, step_name, step_type, handler_ref, step_config_id,
			is_last, retry, retry_limit, status, status_message, worker_id, not_before, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.StepNumber, st.StepName, string(st.StepType), st.HandlerRef, st.StepConfigID,
		boolToInt(st.IsLast), st.Retry, st.RetryLimit, string(model.StepPending), nullString(st.StatusMessage),
		nullString(st.WorkerID), formatClaimTime(st.NotBefore), formatTime(&now), formatTime(st.StartedAt), formatTime(st.CompletedAt),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "inserting next run step")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ingestererrors.Wrap(err, "reading new run step id")
	}
	st.ID = id
	st.Status = model.StepPending
	st.CreatedAt = now
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) RetryStep(ctx context.Context, stepID int64, notBefore time.Time, message string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, worker_id = NULL, retry = retry + 1, not_before = ?, status_message = ? WHERE id = ?`,
		string(model.StepPending), formatClaimTime(&notBefore), nullString(message), stepID,
	)
	if err != nil {
		return ingestererrors.Wrap(err, "retrying step")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("run_step", idStr(stepID))
	}
	return nil
}

func (s *Store) FailStep(ctx context.Context, stepID int64, message string) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, status_message = ?, completed_at = ? WHERE id = ?`,
		string(model.StepFailed), nullString(message), formatTime(&now), stepID,
	)
	if err != nil {
		return ingestererrors.Wrap(err, "failing step")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return notFound("run_step", idStr(stepID))
	}
	return nil
}

func (s *Store) ReclaimStaleSteps(ctx context.Context, staleWorkerIDs []string) ([]int64, error) {
	if len(staleWorkerIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(staleWorkerIDs))
	args := make([]any, 0, len(staleWorkerIDs)+1)
	args = append(args, string(model.StepRunning))
	for i, id := range staleWorkerIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id FROM run_steps WHERE status = ? AND worker_id IN (%s)`, join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "selecting stale steps")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	reclaimPlaceholders := make([]string, len(ids))
	reclaimArgs := make([]any, 0, len(ids)+1)
	reclaimArgs = append(reclaimArgs, string(model.StepPending))
	for i, id := range ids {
		reclaimPlaceholders[i] = "?"
		reclaimArgs = append(reclaimArgs, id)
	}
	updateQuery := fmt.Sprintf(
		`UPDATE run_steps SET status = ?, worker_id = NULL, status_message = 'worker check-in expired' WHERE id IN (%s)`,
		join(reclaimPlaceholders, ","),
	)
	if _, err := s.db.ExecContext(ctx, updateQuery, reclaimArgs...); err != nil {
		return nil, ingestererrors.Wrap(err, "reclaiming stale steps")
	}
	return ids, nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// --- WorkerCheckin ---

func (s *Store) Heartbeat(ctx context.Context, workerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_checkins (worker_id, first_seen, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET last_seen = excluded.last_seen
	`, workerID, formatTime(&now), formatTime(&now))
	if err != nil {
		return ingestererrors.Wrap(err, "recording worker heartbeat")
	}
	return nil
}

func (s *Store) ListStaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-threshold)
	rows, err := s.db.QueryContext(ctx, `SELECT worker_id FROM worker_checkins WHERE last_seen < ?`, formatTime(&cutoff))
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing stale workers")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worker_checkins WHERE worker_id = ?`, workerID)
	if err != nil {
		return ingestererrors.Wrap(err, "removing worker checkin")
	}
	return nil
}

// --- LifecycleHistory ---

func (s *Store) AppendEvent(ctx context.Context, event *model.LifecycleHistory) error {
	metadata, err := marshalMap(event.Metadata)
	if err != nil {
		return ingestererrors.Wrap(err, "marshaling lifecycle event metadata")
	}
	now := time.Now()
	event.CreatedAt = now
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO lifecycle_history (event_kind, group_id, run_id, step_id, status, message, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.EventKind), event.GroupID, nullableID(event.RunID), nullableID(event.StepID),
		event.Status, nullString(event.Message), metadata, formatTime(&now),
	)
	if err != nil {
		return ingestererrors.Wrap(err, "appending lifecycle event")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ingestererrors.Wrap(err, "reading new lifecycle event id")
	}
	event.ID = id
	return nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func (s *Store) ListEventsForGroup(ctx context.Context, groupID int64) ([]*model.LifecycleHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_kind, group_id, run_id, step_id, status, message, metadata, created_at
		 FROM lifecycle_history WHERE group_id = ? ORDER BY created_at ASC, id ASC`, groupID)
	if err != nil {
		return nil, ingestererrors.Wrap(err, "listing lifecycle events")
	}
	defer rows.Close()

	var events []*model.LifecycleHistory
	for rows.Next() {
		var e model.LifecycleHistory
		var kind string
		var runID, stepID sql.NullInt64
		var message, metadata, createdAt sql.NullString
		if err := rows.Scan(&e.ID, &kind, &e.GroupID, &runID, &stepID, &e.Status, &message, &metadata, &createdAt); err != nil {
			return nil, ingestererrors.Wrap(err, "scanning lifecycle event")
		}
		e.EventKind = model.LifecycleEventKind(kind)
		if runID.Valid {
			e.RunID = &runID.Int64
		}
		if stepID.Valid {
			e.StepID = &stepID.Int64
		}
		e.Message = message.String
		var err error
		if e.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		if t, err := parseTime(createdAt); err == nil && t != nil {
			e.CreatedAt = *t
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Cascading deletion (spec §4.8) ---

func (s *Store) DeleteRunGroup(ctx context.Context, id int64) (map[string]int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, ingestererrors.Wrap(err, "beginning delete-run-group transaction")
	}
	defer tx.Rollback()

	counts := map[string]int{}

	lifecycle, err := execCount(ctx, tx,
		`DELETE FROM lifecycle_history WHERE group_id = ?`, id)
	if err != nil {
		return nil, 0, err
	}
	counts["lifecycle_history"] = lifecycle

	steps, err := execCount(ctx, tx,
		`DELETE FROM run_steps WHERE run_id IN (SELECT id FROM workflow_runs WHERE group_id = ?)`, id)
	if err != nil {
		return nil, 0, err
	}
	counts["run_steps"] = steps

	runs, err := execCount(ctx, tx, `DELETE FROM workflow_runs WHERE group_id = ?`, id)
	if err != nil {
		return nil, 0, err
	}
	counts["workflow_runs"] = runs

	groups, err := execCount(ctx, tx, `DELETE FROM run_groups WHERE id = ?`, id)
	if err != nil {
		return nil, 0, err
	}
	if groups == 0 {
		return nil, 0, notFound("run_group", idStr(id))
	}
	counts["run_groups"] = groups

	if err := tx.Commit(); err != nil {
		return nil, 0, ingestererrors.Wrap(err, "committing delete-run-group transaction")
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return counts, total, nil
}

func (s *Store) DeleteDocumentURI(ctx context.Context, uri, source string) (map[string]int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, ingestererrors.Wrap(err, "beginning delete-document-uri transaction")
	}
	defer tx.Rollback()

	existing, err := s.getURITx(ctx, tx, uri, source)
	if err != nil {
		return nil, 0, err
	}
	hash := existing.DocumentHash

	counts := map[string]int{}

	history, err := execCount(ctx, tx, `DELETE FROM document_uri_history WHERE document_uri_id = ?`, existing.ID)
	if err != nil {
		return nil, 0, err
	}
	counts["document_uri_history"] = history

	uris, err := execCount(ctx, tx, `DELETE FROM document_uris WHERE id = ?`, existing.ID)
	if err != nil {
		return nil, 0, err
	}
	counts["document_uris"] = uris

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_uris WHERE document_hash = ?`, hash).Scan(&remaining); err != nil {
		return nil, 0, ingestererrors.Wrap(err, "counting remaining document uris")
	}

	if remaining == 0 {
		lifecycle, err := execCount(ctx, tx, `
			DELETE FROM lifecycle_history WHERE run_id IN (
				SELECT id FROM workflow_runs WHERE document_hash = ?
			)`, hash)
		if err != nil {
			return nil, 0, err
		}
		counts["lifecycle_history"] = lifecycle

		steps, err := execCount(ctx, tx, `
			DELETE FROM run_steps WHERE run_id IN (
				SELECT id FROM workflow_runs WHERE document_hash = ?
			)`, hash)
		if err != nil {
			return nil, 0, err
		}
		counts["run_steps"] = steps

		runs, err := execCount(ctx, tx, `DELETE FROM workflow_runs WHERE document_hash = ?`, hash)
		if err != nil {
			return nil, 0, err
		}
		counts["workflow_runs"] = runs

		documents, err := execCount(ctx, tx, `DELETE FROM documents WHERE hash = ?`, hash)
		if err != nil {
			return nil, 0, err
		}
		counts["documents"] = documents
	}

	if remaining == 0 && s.artifactDeleter != nil {
		artifacts, err := s.artifactDeleter(ctx, hash)
		if err != nil {
			return nil, 0, ingestererrors.Wrap(err, "deleting artifacts for document")
		}
		counts["artifacts"] = artifacts
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, ingestererrors.Wrap(err, "committing delete-document-uri transaction")
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return counts, total, nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ingestererrors.Wrapf(err, "executing %q", query)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, ingestererrors.Wrap(err, "counting affected rows")
	}
	return int(affected), nil
}
