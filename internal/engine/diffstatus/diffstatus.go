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

// Package diffstatus compares a source's current uri->hash mapping
// against persisted state (spec §4.9), read-only, used by ingest agents
// to decide what to re-ingest.
package diffstatus

import (
	"context"

	"github.com/soliplex/ingester/internal/engine/store"
)

// Diff is the result of comparing an incoming mapping against persistence.
type Diff struct {
	// New lists URIs present in the input but not yet persisted for this source.
	New []string
	// Changed lists URIs present in both but resolving to a different hash.
	Changed []string
	// Missing lists URIs persisted for this source but absent from the input.
	Missing []string
}

// Compute returns the diff of mapping (uri -> content hash) against the
// persisted state for source. It does not mutate any state.
func Compute(ctx context.Context, docs store.DocumentStore, source string, mapping map[string]string) (Diff, error) {
	persisted, err := docs.ListURIsForSource(ctx, source)
	if err != nil {
		return Diff{}, err
	}

	var diff Diff
	for uri, hash := range mapping {
		priorHash, ok := persisted[uri]
		switch {
		case !ok:
			diff.New = append(diff.New, uri)
		case priorHash != hash:
			diff.Changed = append(diff.Changed, uri)
		}
	}
	for uri := range persisted {
		if _, ok := mapping[uri]; !ok {
			diff.Missing = append(diff.Missing, uri)
		}
	}
	return diff, nil
}
