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

// Package processes implements "weaverctl processes ...": deploy,
// list, describe, patch, put and delete a weaverd Process.
package processes

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/weaver/internal/cliflags"
)

// NewCommand creates the "processes" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "processes",
		Aliases: []string{"process"},
		Short:   "Deploy and manage Processes",
		Long: `Manage the Processes deployed to weaverd.

Examples:
  # Deploy a CWL document or OGC-API package
  weaverctl processes deploy ./echo.cwl

  # List deployed processes
  weaverctl processes list

  # Describe a single process
  weaverctl processes describe echo

  # Undeploy a process
  weaverctl processes delete echo`,
	}

	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDescribeCmd())
	cmd.AddCommand(newPatchCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newDeleteCmd())
	return cmd
}

func newDeployCmd() *cobra.Command {
	var unitType string
	var processID string

	cmd := &cobra.Command{
		Use:   "deploy <file|url>",
		Short: "Deploy a CWL execution unit or OGC-API package description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]

			if unitType == "" && isInteractive() {
				if err := huh.NewForm(huh.NewGroup(
					huh.NewSelect[string]().
						Title("Execution unit kind").
						Description("How should weaverd interpret " + src + "?").
						Options(
							huh.NewOption("CWL document (YAML/JSON)", "cwl"),
							huh.NewOption("OGC-API package description (JSON)", "ogcapppkg"),
						).
						Value(&unitType),
				)).Run(); err != nil {
					return cliflags.NewInvalidArgsError("deploy cancelled", err)
				}
			}
			if unitType == "" {
				unitType = "cwl"
			}

			body, contentType, err := readDeployBody(src, unitType)
			if err != nil {
				return cliflags.NewInvalidArgsError("failed to read "+src, err)
			}

			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}

			path := "/processes"
			if processID != "" {
				path += "?" + url.Values{"id": {processID}}.Encode()
			}
			resp, _, err := client.PostRaw(cmd.Context(), path, contentType, body)
			if err != nil {
				return cliflags.NewAPIError("deploy failed", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&unitType, "type", "", "Execution unit kind: cwl or ogcapppkg (prompted interactively if omitted on a terminal)")
	cmd.Flags().StringVar(&processID, "id", "", "Override the deployed process ID (inline CWL only)")
	return cmd
}

// readDeployBody loads src (a local file path or an http(s) URL) and
// picks the Content-Type weaverd's deploy endpoint dispatches on.
func readDeployBody(src, unitType string) ([]byte, string, error) {
	var data []byte
	var err error
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		data, err = fetchURL(src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, "", err
	}

	if unitType == "ogcapppkg" {
		return data, "application/ogcapppkg+json", nil
	}

	ct := "application/cwl+yaml"
	if strings.ToLower(filepath.Ext(src)) == ".json" {
		ct = "application/cwl+json"
	}
	return data, ct, nil
}

// fetchURL retrieves an external execution-unit reference directly;
// unlike weaverd's own httpapi surface this is a one-off fetch of an
// arbitrary host, not a call against the configured weaverd server.
func fetchURL(src string) ([]byte, error) {
	resp, err := http.Get(src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching %s: status %d", src, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

func newListCmd() *cobra.Command {
	var keywords string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployed processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			q := url.Values{}
			if keywords != "" {
				q.Set("keywords", keywords)
			}
			q.Set("limit", fmt.Sprint(limit))
			q.Set("offset", fmt.Sprint(offset))
			resp, err := client.Get(cmd.Context(), "/processes", q)
			if err != nil {
				return cliflags.NewAPIError("failed to list processes", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&keywords, "keywords", "", "Comma-separated keyword filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <id>",
		Short: "Describe a single process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			resp, err := client.Get(cmd.Context(), "/processes/"+args[0], nil)
			if err != nil {
				return cliflags.NewAPIError("failed to describe process", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	return cmd
}

func newPatchCmd() *cobra.Command {
	var visibility string
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Patch mutable process metadata (currently: visibility)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if visibility == "" {
				return cliflags.NewInvalidArgsError("patch requires at least one field", fmt.Errorf("--visibility not set"))
			}
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			resp, err := client.PatchJSON(cmd.Context(), "/processes/"+args[0], map[string]any{"visibility": visibility})
			if err != nil {
				return cliflags.NewAPIError("failed to patch process", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&visibility, "visibility", "", "New visibility: public or private")
	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <id> <file>",
		Short: "Replace a process's execution unit wholesale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return cliflags.NewInvalidArgsError("failed to read "+args[1], err)
			}
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			ct := "application/cwl+yaml"
			if strings.ToLower(filepath.Ext(args[1])) == ".json" {
				ct = "application/cwl+json"
			}
			resp, err := client.PutRaw(cmd.Context(), "/processes/"+args[0], ct, data)
			if err != nil {
				return cliflags.NewAPIError("failed to replace process", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"undeploy", "rm"},
		Short:   "Undeploy a process",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			if err := client.Delete(cmd.Context(), "/processes/"+args[0]); err != nil {
				return cliflags.NewAPIError("failed to delete process", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "process %s deleted\n", args[0])
			return nil
		},
	}
	return cmd
}

func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
