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
	"testing"

	ingestererrors "github.com/soliplex/ingester/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.DatabaseURL = "sqlite://test.db"
	return cfg
}

func TestValidate_DefaultWithDatabaseURLPasses(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "database_url", configErr.Key)
}

func TestValidate_UnknownArtifactBackend(t *testing.T) {
	cfg := validConfig()
	cfg.ArtifactBackend = "nfs"

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "artifact_backend", configErr.Key)
}

func TestValidate_FSBackendRequiresArtifactRoot(t *testing.T) {
	cfg := validConfig()
	cfg.ArtifactRoot = ""

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "artifact_root", configErr.Key)
}

func TestValidate_StaleWorkerThresholdMustExceedHeartbeat(t *testing.T) {
	cfg := validConfig()
	cfg.HeartbeatInterval = 120_000_000_000 // 120s in ns, same unit as StaleWorkerThreshold
	cfg.StaleWorkerThreshold = 60_000_000_000

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "stale_worker_threshold", configErr.Key)
}

func TestValidate_RetryCapBelowBase(t *testing.T) {
	cfg := validConfig()
	cfg.RetryCapBackoff = cfg.RetryBaseBackoff - 1

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "retry_cap_backoff", configErr.Key)
}

func TestValidate_WorkerPoolSizeMustBePositive(t *testing.T) {
	cfg := validConfig()
	cfg.WorkerPoolSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ingestererrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "worker_pool_size", configErr.Key)
}
