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

// Package dbstore implements the artifact.Store contract on the
// relational store itself, in a DocumentBytes table keyed by
// (hash, kind, storage_root), per spec §6.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Dialect selects the placeholder style and upsert syntax, since dbstore
// is shared between store/sqlite and store/postgres.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store is a database-backed artifact.Store, for deployments that want a
// single backend for both metadata and artifact bytes.
type Store struct {
	db          *sql.DB
	storageRoot string
	dialect     Dialect
}

// New returns a Store writing into db's DocumentBytes table. Callers must
// have already run the DocumentBytes migration (store/sqlite or
// store/postgres provide it).
func New(db *sql.DB, storageRoot string, dialect Dialect) *Store {
	return &Store{db: db, storageRoot: storageRoot, dialect: dialect}
}

func (s *Store) StorageRoot() string { return s.storageRoot }

func (s *Store) ph(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *Store) Put(ctx context.Context, hash string, kind model.ArtifactKind, data []byte) error {
	var query string
	switch s.dialect {
	case DialectPostgres:
		query = `INSERT INTO document_bytes (hash, kind, storage_root, data, byte_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (hash, kind, storage_root) DO UPDATE SET data = $4, byte_count = $5`
	default:
		query = `INSERT INTO document_bytes (hash, kind, storage_root, data, byte_count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (hash, kind, storage_root) DO UPDATE SET data = excluded.data, byte_count = excluded.byte_count`
	}
	if _, err := s.db.ExecContext(ctx, query, hash, string(kind), s.storageRoot, data, len(data)); err != nil {
		return ingestererrors.Wrapf(err, "storing artifact %s/%s", hash, kind)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string, kind model.ArtifactKind) ([]byte, error) {
	query := `SELECT data FROM document_bytes WHERE hash = ` + s.ph(1) + ` AND kind = ` + s.ph(2) + ` AND storage_root = ` + s.ph(3)
	var data []byte
	err := s.db.QueryRowContext(ctx, query, hash, string(kind), s.storageRoot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ingestererrors.NotFoundError{Resource: "artifact", ID: string(kind) + ":" + hash}
	}
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "reading artifact %s/%s", hash, kind)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, hash string, kind model.ArtifactKind) (bool, error) {
	query := `SELECT 1 FROM document_bytes WHERE hash = ` + s.ph(1) + ` AND kind = ` + s.ph(2) + ` AND storage_root = ` + s.ph(3)
	var one int
	err := s.db.QueryRowContext(ctx, query, hash, string(kind), s.storageRoot).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ingestererrors.Wrapf(err, "checking artifact %s/%s", hash, kind)
	}
	return true, nil
}

func (s *Store) DeleteAllFor(ctx context.Context, hash string) (int, error) {
	query := `DELETE FROM document_bytes WHERE hash = ` + s.ph(1) + ` AND storage_root = ` + s.ph(2)
	result, err := s.db.ExecContext(ctx, query, hash, s.storageRoot)
	if err != nil {
		return 0, ingestererrors.Wrapf(err, "deleting artifacts for %s", hash)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, ingestererrors.Wrapf(err, "counting deleted artifacts for %s", hash)
	}
	return int(affected), nil
}
