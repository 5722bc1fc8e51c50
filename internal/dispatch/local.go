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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tombee/weaver/pkg/weavererr"
)

const stderrTailBytes = 4096

// LocalCWLRunner invokes the external CWL Runner Contract (§4.3) as a
// subprocess: the engine itself is a black box outside this module's
// scope, so this type only owns argument construction, invocation, and
// result parsing around whatever binary implements the contract.
type LocalCWLRunner struct {
	// Binary is the CWL engine executable, e.g. "cwltool".
	Binary string
	// ExtraArgs are appended verbatim before the document/inputs args.
	ExtraArgs []string
}

// NewLocalCWLRunner returns a LocalCWLRunner invoking binary.
func NewLocalCWLRunner(binary string) *LocalCWLRunner {
	if binary == "" {
		binary = "cwltool"
	}
	return &LocalCWLRunner{Binary: binary}
}

// cwlOutputEntry mirrors one entry of the JSON object the runner
// contract's output mapping is expected to serialize as on its final
// stdout line: {id: {path, media_type, is_directory}}.
type cwlOutputEntry struct {
	Path        string `json:"path"`
	MediaType   string `json:"media_type"`
	IsDirectory bool   `json:"is_directory"`
}

// Run shells out to the CWL engine with the resolved inputs written to
// a job-order file in req.WorkDir, per the contract's "resolved inputs
// mapping, a work directory, no-read-only=false" inputs.
func (r *LocalCWLRunner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	jobOrderPath := filepath.Join(req.WorkDir, req.StepID+".jobOrder.json")
	jobOrder, err := json.Marshal(req.Inputs)
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	if err := os.WriteFile(jobOrderPath, jobOrder, 0o644); err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	toolPath := filepath.Join(req.WorkDir, req.StepID+".cwl.json")
	toolJSON, err := documentToJSON(req.Tool)
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	if err := os.WriteFile(toolPath, toolJSON, 0o644); err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	args := append([]string{}, r.ExtraArgs...)
	args = append(args, "--outdir", req.WorkDir)
	if req.GPU {
		args = append(args, "--cuda")
	}
	args = append(args, toolPath, jobOrderPath)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	stdoutPath := filepath.Join(req.WorkDir, req.StepID+".stdout.log")
	stderrPath := filepath.Join(req.WorkDir, req.StepID+".stderr.log")
	_ = os.WriteFile(stdoutPath, stdout.Bytes(), 0o644)
	_ = os.WriteFile(stderrPath, stderr.Bytes(), 0o644)

	tail := tailString(stderr.String(), stderrTailBytes)

	if ctx.Err() != nil {
		return StepResult{}, weavererr.NewRunnerTimeout(req.StepID, ctx.Err())
	}
	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, exitCode, tail, runErr)
	}

	outputs, err := parseOutputMapping(stdout.Bytes())
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, 0, tail, err)
	}

	return StepResult{Outputs: outputs, StdoutPath: stdoutPath, StderrPath: stderrPath}, nil
}

func parseOutputMapping(stdout []byte) (map[string]StepOutput, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	if len(lines) == 0 {
		return map[string]StepOutput{}, nil
	}
	last := lines[len(lines)-1]

	var raw map[string]cwlOutputEntry
	if err := json.Unmarshal(last, &raw); err != nil {
		return nil, err
	}
	outputs := make(map[string]StepOutput, len(raw))
	for id, e := range raw {
		outputs[id] = StepOutput{Path: e.Path, MediaType: e.MediaType, IsDirectory: e.IsDirectory}
	}
	return outputs, nil
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func documentToJSON(doc any) ([]byte, error) {
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.MarshalIndent(doc, "", "  ")
}
