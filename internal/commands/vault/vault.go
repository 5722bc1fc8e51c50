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

// Package vault implements "weaverctl vault upload": one-shot blob
// upload to weaverd's encrypted Vault.
package vault

import (
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/weaver/internal/cliflags"
)

// NewCommand creates the "vault" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Upload blobs to weaverd's Vault",
	}
	cmd.AddCommand(newUploadCmd())
	return cmd
}

func newUploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its id/access_token",
		Long: `Upload a file to weaverd's Vault. The returned id and access_token
identify a one-shot, consumed-on-first-read blob suitable for passing
a secret into a Job's inputs without persisting it in the Store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return cliflags.NewInvalidArgsError("failed to read "+args[0], err)
			}
			ct := contentType
			if ct == "" {
				ct = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			if ct == "" {
				ct = "application/octet-stream"
			}
			client, err := cliflags.Client()
			if err != nil {
				return cliflags.NewAPIError("failed to construct client", err)
			}
			resp, _, err := client.PostRaw(cmd.Context(), "/vault", ct, data)
			if err != nil {
				return cliflags.NewAPIError("vault upload failed", err)
			}
			return cliflags.EmitRaw(resp)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type to store the blob with (guessed from extension if omitted)")
	return cmd
}
