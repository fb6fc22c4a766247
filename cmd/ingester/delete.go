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

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "delete", Short: "Cascading deletion (spec §4.8)"}
	cmd.AddCommand(newDeleteGroupCommand())
	cmd.AddCommand(newDeleteURICommand())
	return cmd
}

func newDeleteGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group ID",
		Short: "Delete a run group and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid group id %q: %w", args[0], err)
			}
			return withIntake(cmd, func(ctx context.Context, _ *intake.Service, cas *cascade.Service) error {
				counts, total, err := cas.DeleteRunGroup(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows: %v\n", total, counts)
				return nil
			})
		},
	}
	return cmd
}

func newDeleteURICommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "uri URI",
		Short: "Delete a document URI, cascading to its document if this was the last reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIntake(cmd, func(ctx context.Context, _ *intake.Service, cas *cascade.Service) error {
				counts, total, err := cas.DeleteDocumentURI(ctx, args[0], source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows: %v\n", total, counts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source system tag")
	return cmd
}
