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

// Command ingester is a thin batch/status client over the engine's
// intake and cascade operations: it has no interactive prompts and no
// TUI, since the engine's Non-goals exclude an interactive setup flow
// (SPEC_FULL.md §6's dropped-dependency list).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "ingester",
		Short:         "Client for the soliplex ingester workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file")

	root.AddCommand(newBatchCommand())
	root.AddCommand(newIngestCommand())
	root.AddCommand(newStartCommand())
	root.AddCommand(newDryRunCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newDeleteCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ingester %s\n", version)
			return nil
		},
	}
}
