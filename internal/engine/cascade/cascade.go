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

// Package cascade exposes the two cascading-deletion operations (spec
// §4.8) as a typed service. The actual cascade transactions live in the
// store backends (store.CascadeStore) because they must run as a single
// database transaction; this package adds structured logging around
// them and is the seam callers (the CLI, the engine facade) go through
// rather than reaching into store directly.
package cascade

import (
	"context"
	"log/slog"

	"github.com/soliplex/ingester/internal/engine/store"
)

// Service wraps store.CascadeStore with logging of what was removed.
type Service struct {
	store  store.CascadeStore
	logger *slog.Logger
}

// New returns a cascade Service over s. A nil logger falls back to
// slog.Default().
func New(s store.CascadeStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger.With(slog.String("component", "cascade"))}
}

// DeleteRunGroup removes a RunGroup and everything beneath it: its
// WorkflowRuns, their RunSteps, and their LifecycleHistory.
func (s *Service) DeleteRunGroup(ctx context.Context, id int64) (map[string]int, int, error) {
	counts, total, err := s.store.DeleteRunGroup(ctx, id)
	if err != nil {
		s.logger.Error("delete run group failed", "group_id", id, "error", err)
		return nil, 0, err
	}
	s.logger.Info("deleted run group", "group_id", id, "total", total, "counts", counts)
	return counts, total, nil
}

// DeleteDocumentURI removes a DocumentURI mapping and, if it was the
// last reference to its Document, cascades to the Document, its runs,
// steps, lifecycle history, and artifacts.
func (s *Service) DeleteDocumentURI(ctx context.Context, uri, source string) (map[string]int, int, error) {
	counts, total, err := s.store.DeleteDocumentURI(ctx, uri, source)
	if err != nil {
		s.logger.Error("delete document uri failed", "uri", uri, "source", source, "error", err)
		return nil, 0, err
	}
	s.logger.Info("deleted document uri", "uri", uri, "source", source, "total", total, "counts", counts)
	return counts, total, nil
}
