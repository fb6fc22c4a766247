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

// Package artifact defines the content-addressed artifact store
// abstraction (spec §4.1): named, typed byte-blob storage keyed by
// (content hash, artifact kind, storage root), with pluggable backends
// (artifact/fsstore, artifact/s3store, artifact/dbstore).
package artifact

import (
	"context"

	"github.com/soliplex/ingester/internal/engine/model"
)

// Store is the capability interface every artifact backend satisfies.
// The selector between backends is configuration, not a type hierarchy
// (spec §9 "inheritance-based pluggable storage" re-architecture note).
type Store interface {
	// Put writes bytes under (hash, kind) in this store's storage root.
	// Put is overwrite-idempotent: writing the same bytes twice is a
	// no-op observationally.
	Put(ctx context.Context, hash string, kind model.ArtifactKind, data []byte) error

	// Get returns the bytes for (hash, kind), or a *errors.NotFoundError
	// if absent.
	Get(ctx context.Context, hash string, kind model.ArtifactKind) ([]byte, error)

	// Exists reports whether (hash, kind) has been written.
	Exists(ctx context.Context, hash string, kind model.ArtifactKind) (bool, error)

	// DeleteAllFor removes every artifact kind recorded for hash and
	// returns the count removed. Used only by cascading deletion; the
	// caller's enclosing transaction fails if this returns an error.
	DeleteAllFor(ctx context.Context, hash string) (int, error)

	// StorageRoot names the configuration-level label this store was
	// constructed with (e.g. "file_store", "lancedb").
	StorageRoot() string
}
