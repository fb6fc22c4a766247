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

package config

import ingestererrors "github.com/soliplex/ingester/pkg/errors"

// Validate walks cfg and returns the first problem found as a
// *pkg/errors.ConfigError, or nil if cfg is usable.
func (cfg *Config) Validate() error {
	if cfg.DatabaseURL == "" {
		return &ingestererrors.ConfigError{Key: "database_url", Reason: "must be set"}
	}

	switch cfg.ArtifactBackend {
	case ArtifactBackendFS, ArtifactBackendDB, ArtifactBackendS3:
	default:
		return &ingestererrors.ConfigError{
			Key:    "artifact_backend",
			Reason: "must be one of fs, db, s3, got " + string(cfg.ArtifactBackend),
		}
	}

	if cfg.ArtifactBackend == ArtifactBackendFS && cfg.ArtifactRoot == "" {
		return &ingestererrors.ConfigError{Key: "artifact_root", Reason: "must be set for the fs backend"}
	}
	if cfg.ArtifactStorageRoot == "" {
		return &ingestererrors.ConfigError{Key: "artifact_storage_root", Reason: "must be set"}
	}
	if cfg.WorkflowDir == "" {
		return &ingestererrors.ConfigError{Key: "workflow_dir", Reason: "must be set"}
	}
	if cfg.ParameterDir == "" {
		return &ingestererrors.ConfigError{Key: "parameter_dir", Reason: "must be set"}
	}
	if cfg.DefaultWorkflowID == "" {
		return &ingestererrors.ConfigError{Key: "default_workflow_id", Reason: "must be set"}
	}
	if cfg.DefaultParameterID == "" {
		return &ingestererrors.ConfigError{Key: "default_parameter_id", Reason: "must be set"}
	}

	if cfg.WorkerPoolSize < 1 {
		return &ingestererrors.ConfigError{Key: "worker_pool_size", Reason: "must be at least 1"}
	}
	if cfg.ClaimBatchSize < 1 {
		return &ingestererrors.ConfigError{Key: "claim_batch_size", Reason: "must be at least 1"}
	}
	if cfg.HeartbeatInterval <= 0 {
		return &ingestererrors.ConfigError{Key: "heartbeat_interval", Reason: "must be positive"}
	}
	if cfg.StaleWorkerThreshold <= cfg.HeartbeatInterval {
		return &ingestererrors.ConfigError{
			Key:    "stale_worker_threshold",
			Reason: "must be greater than heartbeat_interval, or a live worker would be reclaimed mid-cadence",
		}
	}
	if cfg.RetryBaseBackoff <= 0 {
		return &ingestererrors.ConfigError{Key: "retry_base_backoff", Reason: "must be positive"}
	}
	if cfg.RetryCapBackoff < cfg.RetryBaseBackoff {
		return &ingestererrors.ConfigError{Key: "retry_cap_backoff", Reason: "must be at least retry_base_backoff"}
	}
	if cfg.PollInterval <= 0 {
		return &ingestererrors.ConfigError{Key: "poll_interval", Reason: "must be positive"}
	}
	if cfg.DrainDeadline <= 0 {
		return &ingestererrors.ConfigError{Key: "drain_deadline", Reason: "must be positive"}
	}

	return nil
}
