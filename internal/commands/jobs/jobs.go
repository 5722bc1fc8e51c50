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

// Package jobs implements "weaverctl jobs ...": submit a Job and
// inspect or cancel its lifecycle.
package jobs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/weaver/internal/cliflags"
)

// NewCommand creates the "jobs" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and monitor Jobs",
		Long: `Submit Jobs against a deployed Process and follow their execution.

Examples:
  # Submit a job and wait up to 10s for a synchronous result
  weaverctl jobs submit echo --inputs ./inputs.json --wait 10

  # Poll a job's status
  weaverctl jobs status 1b2e...

  # Show the outputs the job requested
  weaverctl jobs outputs 1b2e...`,
	}
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newResultsCmd())
	cmd.AddCommand(newOutputsCmd())
	cmd.AddCommand(newExceptionsCmd())
	cmd.AddCommand(newStatisticsCmd())
	cmd.AddCommand(newProvCmd())
	cmd.AddCommand(newDismissCmd())
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var inputsPath string
	var wait int
	var async bool

	cmd := &cobra.Command{
		Use:   "submit <process>",
		Short: "Submit an execution of a deployed process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs map[string]any
			if inputsPath != "" {
				data, err := os.ReadFile(inputsPath)
				if err != nil {
					return cliflags.NewInvalidArgsError("failed to read "+inputsPath, err)
				}
				if err := json.Unmarshal(data, &inputs); err != nil {
					return cliflags.NewInvalidArgsError("invalid inputs JSON in "+inputsPath, err)
				}
			}

			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}

			payload := map[string]any{"inputs": inputs}
			headers := map[string]string{}
			switch {
			case async:
				payload["mode"] = "async"
				headers["Prefer"] = "respond-async"
			case wait > 0:
				payload["mode"] = "sync"
				headers["Prefer"] = fmt.Sprintf("wait=%d", wait)
			}

			resp, _, err := client.PostJSONWithHeaders(cmd.Context(), "/processes/"+args[0]+"/execution", payload, headers)
			if err != nil {
				return cliflags.NewAPIError("job submission failed", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&inputsPath, "inputs", "", "Path to a JSON file of process inputs")
	cmd.Flags().IntVar(&wait, "wait", 0, "Seconds to wait synchronously for a terminal result (0 = don't wait)")
	cmd.Flags().BoolVar(&async, "async", false, "Force asynchronous execution regardless of --wait")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE:  simpleGet("/jobs/%s"),
	}
	return cmd
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Fetch a job's execution log",
		Args:  cobra.ExactArgs(1),
		RunE:  simpleGet("/jobs/%s/logs"),
	}
}

func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <id>",
		Short: "Fetch a job's results",
		Args:  cobra.ExactArgs(1),
		RunE:  simpleGet("/jobs/%s/results"),
	}
}

func newOutputsCmd() *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "outputs <id>",
		Short: "Fetch a job's requested outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			q := url.Values{}
			if schema != "" {
				q.Set("schema", schema)
			}
			resp, err := client.Get(cmd.Context(), fmt.Sprintf("/jobs/%s/outputs", args[0]), q)
			if err != nil {
				return cliflags.NewAPIError("failed to fetch outputs", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "Output rendering: OGC (default) or OLD")
	return cmd
}

func newExceptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exceptions <id>",
		Short: "Fetch a job's exception report",
		Args:  cobra.ExactArgs(1),
		RunE:  simpleGet("/jobs/%s/exceptions"),
	}
}

func newStatisticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statistics <id>",
		Short: "Fetch a job's runtime statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  simpleGet("/jobs/%s/statistics"),
	}
}

func newProvCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "prov <id> [subpath]",
		Short: "Fetch a job's PROV-O provenance record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			path := fmt.Sprintf("/jobs/%s/prov", args[0])
			if len(args) == 2 {
				path += "/" + args[1]
			}
			q := url.Values{}
			if format != "" {
				q.Set("f", format)
			}
			resp, err := client.Get(cmd.Context(), path, q)
			if err != nil {
				return cliflags.NewAPIError("failed to fetch provenance", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Provenance format: prov-json, prov-jsonld, prov-xml, prov-turtle, prov-n, prov-nt (default prov-json)")
	return cmd
}

func newDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dismiss <id>",
		Aliases: []string{"cancel"},
		Short:   "Dismiss a queued or running job (a finished job is left unchanged)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			if err := client.Delete(cmd.Context(), "/jobs/"+args[0]); err != nil {
				return cliflags.NewAPIError("failed to dismiss job", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s dismissed\n", args[0])
			return nil
		},
	}
}

// simpleGet builds a RunE that GETs pathFmt with the job ID
// interpolated and prints the raw response.
func simpleGet(pathFmt string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := cliflags.Client()
		if err != nil {
			return cliflags.NewAPIError("failed to construct client", err)
		}
		resp, err := client.Get(cmd.Context(), fmt.Sprintf(pathFmt, args[0]), nil)
		if err != nil {
			return cliflags.NewAPIError("request failed", err)
		}
		return cliflags.EmitRaw(resp)
	}
}
