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

// Package fsstore implements the artifact.Store contract on a local
// directory tree: <root>/<storage-root>/<hash[0:2]>/<hash>/<kind>.
package fsstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/soliplex/ingester/internal/engine/model"
	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

// Store is a filesystem-backed artifact.Store.
type Store struct {
	root        string
	storageRoot string
}

// New returns a Store rooted at filepath.Join(root, storageRoot). The
// directory is created on first Put if it does not exist.
func New(root, storageRoot string) *Store {
	return &Store{root: root, storageRoot: storageRoot}
}

func (s *Store) StorageRoot() string { return s.storageRoot }

func (s *Store) path(hash string, kind model.ArtifactKind) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, s.storageRoot, hash, hash, string(kind))
	}
	return filepath.Join(s.root, s.storageRoot, hash[:2], hash, string(kind))
}

func (s *Store) Put(ctx context.Context, hash string, kind model.ArtifactKind, data []byte) error {
	target := s.path(hash, kind)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ingestererrors.Wrapf(err, "creating artifact directory for %s/%s", hash, kind)
	}

	// Overwrite-idempotent: skip the write if identical bytes are already
	// there, so a re-invoked handler never churns mtimes or disk I/O.
	if existing, err := os.ReadFile(target); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ingestererrors.Wrapf(err, "writing artifact %s/%s", hash, kind)
	}
	if err := os.Rename(tmp, target); err != nil {
		return ingestererrors.Wrapf(err, "finalizing artifact %s/%s", hash, kind)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string, kind model.ArtifactKind) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash, kind))
	if os.IsNotExist(err) {
		return nil, &ingestererrors.NotFoundError{Resource: "artifact", ID: string(kind) + ":" + hash}
	}
	if err != nil {
		return nil, ingestererrors.Wrapf(err, "reading artifact %s/%s", hash, kind)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, hash string, kind model.ArtifactKind) (bool, error) {
	_, err := os.Stat(s.path(hash, kind))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ingestererrors.Wrapf(err, "checking artifact %s/%s", hash, kind)
	}
	return true, nil
}

func (s *Store) DeleteAllFor(ctx context.Context, hash string) (int, error) {
	dir := filepath.Join(s.root, s.storageRoot, prefixOf(hash), hash)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, ingestererrors.Wrapf(err, "listing artifacts for %s", hash)
	}
	count := len(entries)
	if err := os.RemoveAll(dir); err != nil {
		return 0, ingestererrors.Wrapf(err, "deleting artifacts for %s", hash)
	}
	return count, nil
}

func prefixOf(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}
