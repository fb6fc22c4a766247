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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ArtifactBackendFS, cfg.ArtifactBackend)
	assert.Equal(t, "file_store", cfg.ArtifactRoot)
	assert.Equal(t, "lancedb", cfg.VectorStoreRoot)
	assert.Equal(t, "config/workflows", cfg.WorkflowDir)
	assert.Equal(t, "config/params", cfg.ParameterDir)
	assert.Equal(t, "batch_split", cfg.DefaultWorkflowID)
	assert.Equal(t, "default", cfg.DefaultParameterID)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 5, cfg.ClaimBatchSize)
	assert.Equal(t, 120*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 600*time.Second, cfg.StaleWorkerThreshold)
	assert.Equal(t, 5*time.Second, cfg.RetryBaseBackoff)
	assert.Equal(t, 600*time.Second, cfg.RetryCapBackoff)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.DrainDeadline)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingester.yaml")
	body := `
database_url: "postgres://localhost/ingester"
artifact_backend: s3
artifact_root: my-bucket
worker_pool_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/ingester", cfg.DatabaseURL)
	assert.Equal(t, ArtifactBackendS3, cfg.ArtifactBackend)
	assert.Equal(t, "my-bucket", cfg.ArtifactRoot)
	assert.Equal(t, 25, cfg.WorkerPoolSize)
	// Untouched keys keep their spec.md default.
	assert.Equal(t, 5, cfg.ClaimBatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFromEnv_OverridesLayerOnTop(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "sqlite://from-file.db"

	t.Setenv("INGESTER_DATABASE_URL", "sqlite://from-env.db")
	t.Setenv("INGESTER_WORKER_POOL_SIZE", "3")
	t.Setenv("INGESTER_POLL_INTERVAL", "2")

	cfg.FromEnv()

	assert.Equal(t, "sqlite://from-env.db", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.WorkerPoolSize)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestFromEnv_IgnoresUnsetAndMalformed(t *testing.T) {
	cfg := Default()
	want := cfg.WorkerPoolSize

	t.Setenv("INGESTER_WORKER_POOL_SIZE", "not-a-number")
	cfg.FromEnv()

	assert.Equal(t, want, cfg.WorkerPoolSize)
}
