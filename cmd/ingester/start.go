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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soliplex/ingester/internal/engine/cascade"
	"github.com/soliplex/ingester/internal/engine/intake"
)

func newStartCommand() *cobra.Command {
	var batchID int64
	var workflowID, parameterSetID, name string
	var documentHashes []string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start workflows for a set of ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIntake(cmd, func(ctx context.Context, in *intake.Service, _ *cascade.Service) error {
				group, err := in.StartWorkflows(ctx, batchID, name, workflowID, parameterSetID, documentHashes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %d started, status=%s\n", group.ID, group.Status)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&batchID, "batch", 0, "Batch id")
	cmd.Flags().StringVar(&name, "name", "", "Run group name")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Workflow definition id")
	cmd.Flags().StringVar(&parameterSetID, "params", "default", "Parameter set id")
	cmd.Flags().StringSliceVar(&documentHashes, "document", nil, "Document content hash (repeatable)")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func newDryRunCommand() *cobra.Command {
	var workflowID, parameterSetID string
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Preview the step plan for a workflow + parameter set without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIntake(cmd, func(ctx context.Context, in *intake.Service, _ *cascade.Service) error {
				plan, err := in.DryRun(workflowID, parameterSetID)
				if err != nil {
					return err
				}
				for i, step := range plan.Steps {
					fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (%s) -> %s config=%v\n",
						i+1, step.Name, step.StepType, step.HandlerRef, step.ResolvedConfig)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Workflow definition id")
	cmd.Flags().StringVar(&parameterSetID, "params", "default", "Parameter set id")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func newReplayCommand() *cobra.Command {
	var runID int64
	var overrideParams string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a failed workflow run as a new sibling run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIntake(cmd, func(ctx context.Context, in *intake.Service, _ *cascade.Service) error {
				run, err := in.Replay(ctx, runID, overrideParams)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replay run %d created, status=%s\n", run.ID, run.Status)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "Failed workflow run id to replay")
	cmd.Flags().StringVar(&overrideParams, "params", "", "Override parameter set id (defaults to the original group's)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}
