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

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/weaver/internal/dispatch"
)

// jsonarray2netcdf reads a JSON array of NetCDF file URLs from the
// "input" file and concatenates the files they reference into a single
// "output" NetCDF file. Every URL is resolved through resolveNetCDFRef,
// which rejects references that do not carry a NetCDF extension or fall
// outside the Fetcher's allowed roots (SPEC_FULL.md §4.12).
func (r *Registry) jsonarray2netcdf(ctx context.Context, workDir string, inputs map[string]any) (map[string]dispatch.StepOutput, error) {
	inputPath, err := requireStringInput(inputs, "input")
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("builtins: reading jsonarray2netcdf input: %w", err)
	}

	var refs []string
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("builtins: input is not a JSON array of strings: %w", err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("builtins: jsonarray2netcdf input array is empty")
	}

	sources := make([]string, 0, len(refs))
	for _, ref := range refs {
		local, err := r.resolveNetCDFRef(ctx, workDir, ref)
		if err != nil {
			return nil, err
		}
		sources = append(sources, local)
	}

	outPath := filepath.Join(workDir, "output.nc")
	if err := concatNetCDF(outPath, sources); err != nil {
		return nil, err
	}
	return map[string]dispatch.StepOutput{
		"output": {Path: outPath, MediaType: "application/x-netcdf"},
	}, nil
}
