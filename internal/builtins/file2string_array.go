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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/weaver/internal/dispatch"
)

// file2stringArray reads the "input" text file and returns its
// non-empty lines as a literal string array. The declared output type is
// "literal" with MaxOccurs -1 (internal/deploy.DefaultBuiltinSpecs), but
// dispatch.StepOutput only carries file-based results; this built-in
// therefore writes the array as a JSON file and relies on the result
// renderer decoding a literal-array built-in output from its JSON
// payload rather than from a single scalar value.
func (r *Registry) file2stringArray(_ context.Context, workDir string, inputs map[string]any) (map[string]dispatch.StepOutput, error) {
	inputPath, err := requireStringInput(inputs, "input")
	if err != nil {
		return nil, err
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("builtins: opening file2string_array input: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("builtins: scanning file2string_array input: %w", err)
	}

	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(workDir, "output.json")
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return nil, err
	}
	return map[string]dispatch.StepOutput{
		"output": {Path: outPath, MediaType: "application/json"},
	}, nil
}
