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

// Package providers implements "weaverctl providers ...": register,
// list and remove remote Process Providers.
package providers

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/weaver/internal/cliflags"
)

// NewCommand creates the "providers" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Register and manage remote Process Providers",
		Long: `Manage the remote OGC-API/WPS Process Providers weaverd proxies.

Examples:
  # Register a provider
  weaverctl providers register --id osgeo --url https://provider.example/ogc

  # List registered providers
  weaverctl providers list

  # Remove one
  weaverctl providers delete osgeo`,
	}
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDeleteCmd())
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var id, baseURL, providerType, credsRef string
	var public, ignoreErrors bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a remote Process Provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				return cliflags.NewInvalidArgsError("registration requires --url", fmt.Errorf("--url not set"))
			}
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			payload := map[string]any{
				"id":              id,
				"url":             baseURL,
				"public":          public,
				"type":            providerType,
				"credentials_ref": credsRef,
				"ignoreErrors":    ignoreErrors,
			}
			resp, _, err := client.PostJSON(cmd.Context(), "/providers", payload)
			if err != nil {
				return cliflags.NewAPIError("provider registration failed", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Provider ID (stored as given; none is generated if omitted)")
	cmd.Flags().StringVar(&baseURL, "url", "", "Provider base URL")
	cmd.Flags().StringVar(&providerType, "type", "", "Provider type: ogc-api or wps (default ogc-api)")
	cmd.Flags().StringVar(&credsRef, "credentials-ref", "", "Vault reference or secret name carrying the provider's credentials")
	cmd.Flags().BoolVar(&public, "public", false, "Advertise this provider's processes publicly")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "Register even if the provider is unreachable at registration time")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			resp, err := client.Get(cmd.Context(), "/providers", nil)
			if err != nil {
				return cliflags.NewAPIError("failed to list providers", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "remove"},
		Short:   "Remove a registered provider",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			if err := client.Delete(cmd.Context(), "/providers/"+args[0]); err != nil {
				return cliflags.NewAPIError("failed to delete provider", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider %s deleted\n", args[0])
			return nil
		},
	}
}
