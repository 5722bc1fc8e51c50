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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tombee/weaver/internal/dispatch"
)

// fileIndexSelector copies the file named by the literal "index" input
// out of the "files" array input and returns it as "output".
func (r *Registry) fileIndexSelector(_ context.Context, workDir string, inputs map[string]any) (map[string]dispatch.StepOutput, error) {
	files, err := requireFileInputs(inputs, "files")
	if err != nil {
		return nil, err
	}
	index, err := requireIntInput(inputs, "index")
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("builtins: index %d out of range for %d files", index, len(files))
	}

	selected := files[index]
	in, err := os.Open(selected)
	if err != nil {
		return nil, fmt.Errorf("builtins: opening selected file %q: %w", selected, err)
	}
	defer in.Close()

	outPath := filepath.Join(workDir, filepath.Base(selected))
	out, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return nil, err
	}

	return map[string]dispatch.StepOutput{
		"output": {Path: outPath},
	}, nil
}

func requireIntInput(inputs map[string]any, key string) (int, error) {
	v, ok := inputs[key]
	if !ok {
		return 0, fmt.Errorf("builtins: missing required input %q", key)
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("builtins: input %q is not an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("builtins: input %q must be an integer, got %T", key, v)
	}
}
