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

package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/internal/engine/scheduler"
)

// staleWorkerAdvisoryLockID is the Postgres advisory lock ID that
// serializes the stale-worker sweep across every ingester process
// sharing one database, so two processes never race
// scheduler.RecoverStale against the same reclaimed steps. Distinct
// from the teacher's own controller.leader.AdvisoryLockID so the two
// daemons can share a database without colliding.
const staleWorkerAdvisoryLockID int64 = 0x696E67657374 // "ingest" in hex

// Recoverer periodically reclaims RUNNING steps left behind by a
// worker that stopped checking in (spec §4.5 crash recovery). Against
// Postgres, only the process holding the advisory lock runs the sweep,
// so a multi-process deployment doesn't reclaim the same step twice;
// against sqlite (always single-process) the lock is skipped entirely.
type Recoverer struct {
	sched     *scheduler.Scheduler
	threshold time.Duration
	interval  time.Duration
	db        *sql.DB // nil for the sqlite/single-process case
	logger    *slog.Logger
}

// NewRecoverer builds a Recoverer. db is the *sql.DB behind a postgres
// store.Store, or nil when running against sqlite.
func NewRecoverer(sched *scheduler.Scheduler, threshold, interval time.Duration, db *sql.DB, logger *slog.Logger) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{sched: sched, threshold: threshold, interval: interval, db: db, logger: logger.With("component", "recovery")}
}

// Run sweeps for stale workers every interval until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recoverer) sweep(ctx context.Context) {
	if r.db != nil {
		acquired, err := r.tryAcquireLock(ctx)
		if err != nil {
			r.logger.Error("advisory lock attempt failed", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer r.releaseLock(ctx)
	}

	reclaimed, err := r.sched.RecoverStale(ctx, r.threshold)
	if err != nil {
		r.logger.Error("stale-worker sweep failed", "error", err)
		return
	}
	if len(reclaimed) > 0 {
		r.logger.Info("stale-worker sweep reclaimed steps", "count", len(reclaimed))
	}
}

func (r *Recoverer) tryAcquireLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := r.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", staleWorkerAdvisoryLockID).Scan(&acquired)
	return acquired, err
}

func (r *Recoverer) releaseLock(ctx context.Context) {
	if _, err := r.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", staleWorkerAdvisoryLockID); err != nil {
		r.logger.Error("failed to release advisory lock", "error", err)
	}
}
