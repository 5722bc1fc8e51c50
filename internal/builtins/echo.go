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
	"os"
	"path/filepath"

	"github.com/tombee/weaver/internal/dispatch"
)

// echo writes the "message" literal input to an output file verbatim.
// It exists mainly as a zero-dependency smoke test for the dispatch and
// staging paths.
func (r *Registry) echo(_ context.Context, workDir string, inputs map[string]any) (map[string]dispatch.StepOutput, error) {
	message, err := requireStringInput(inputs, "message")
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(workDir, "output.txt")
	if err := os.WriteFile(outPath, []byte(message), 0o644); err != nil {
		return nil, err
	}
	return map[string]dispatch.StepOutput{
		"output": {Path: outPath, MediaType: "text/plain"},
	}, nil
}
