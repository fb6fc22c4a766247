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
	"os"

	"github.com/spf13/cobra"

	"github.com/soliplex/ingester/internal/engine/cascade"
	"github.com/soliplex/ingester/internal/engine/intake"
)

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Manage batches"}
	cmd.AddCommand(newBatchCreateCommand())
	return cmd
}

func newBatchCreateCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIntake(cmd, func(ctx context.Context, in *intake.Service, _ *cascade.Service) error {
				batch, err := in.CreateBatch(ctx, args[0], source, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch %d created\n", batch.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source tag for the batch")
	return cmd
}

func newIngestCommand() *cobra.Command {
	var batchID int64
	var source, mimeType string
	cmd := &cobra.Command{
		Use:   "ingest URI FILE",
		Short: "Ingest a file's bytes under a URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return withIntake(cmd, func(ctx context.Context, in *intake.Service, _ *cascade.Service) error {
				result, err := in.IngestDocument(ctx, batchID, args[0], source, mimeType, content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "document %s (new=%v) uri created=%v changed=%v\n",
					result.DocumentHash, result.DocumentNew, result.URICreated, result.URIChanged)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&batchID, "batch", 0, "Batch id")
	cmd.Flags().StringVar(&source, "source", "", "Source system tag")
	cmd.Flags().StringVar(&mimeType, "mime-type", "application/octet-stream", "MIME type of the file")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}
