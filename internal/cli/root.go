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

// Package cli assembles weaverctl's root Cobra command from the
// per-resource command groups in internal/commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/weaver/internal/cliflags"
	"github.com/tombee/weaver/internal/commands/jobs"
	"github.com/tombee/weaver/internal/commands/processes"
	"github.com/tombee/weaver/internal/commands/providers"
	"github.com/tombee/weaver/internal/commands/vault"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	cliflags.SetVersion(v, c, b)
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return cliflags.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	cliflags.HandleExitError(err)
}

// NewRootCommand creates the root Cobra command for weaverctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weaverctl",
		Short: "weaverctl - OGC API Processes operator CLI",
		Long: `weaverctl is the command-line client for weaverd, the OGC API -
Processes execution core. It deploys and manages Processes, submits
and monitors Jobs, registers remote Providers, and uploads Vault blobs
against a running weaverd instance.

Run 'weaverctl processes deploy <file>' to register a new Process.
Run 'weaverctl jobs submit <process>' to execute one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server, timeout := cliflags.RegisterFlagPointers()
	cmd.PersistentFlags().StringVar(server, "server", "", "weaverd base URL (default: $WEAVERCTL_SERVER or http://localhost:4002)")
	cmd.PersistentFlags().StringVar(timeout, "timeout", "", "Request timeout (e.g. 30s); default 30s")

	cmd.AddCommand(processes.NewCommand())
	cmd.AddCommand(jobs.NewCommand())
	cmd.AddCommand(providers.NewCommand())
	cmd.AddCommand(vault.NewCommand())

	return cmd
}
