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

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/soliplex/ingester/internal/config"
	"github.com/soliplex/ingester/internal/engine"
	"github.com/soliplex/ingester/internal/engine/cascade"
	"github.com/soliplex/ingester/internal/engine/intake"
	"github.com/soliplex/ingester/internal/log"
)

// withIntake loads config from the --config flag, builds the intake and
// cascade services against the configured store, runs fn, and closes the
// store afterward regardless of fn's outcome.
func withIntake(cmd *cobra.Command, fn func(ctx context.Context, in *intake.Service, cas *cascade.Service) error) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	logger := log.New(log.FromEnv())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.FromEnv()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	in, cas, closeStore, err := engine.NewIntake(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing store", slog.Any("error", err))
		}
	}()

	return fn(ctx, in, cas)
}
