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

// Package cliflags holds weaverctl's global persistent-flag state,
// exit codes, and output helpers, mirrored across every subcommand
// package the way a single cobra root command's children usually share
// this kind of state.
package cliflags

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tombee/weaver/internal/cliclient"
)

// Global flag values, set by the root command's PersistentFlags.
var (
	serverFlag  string
	timeoutFlag string

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers bound by the root command.
func RegisterFlagPointers() (*string, *string) {
	return &serverFlag, &timeoutFlag
}

// SetVersion records build-time version metadata (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns build-time version metadata.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// Server returns the configured weaverd base URL.
func Server() string {
	return serverFlag
}

// Client constructs a cliclient.Client against the configured server.
func Client() (*cliclient.Client, error) {
	var timeout time.Duration
	if timeoutFlag != "" {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout %q: %w", timeoutFlag, err)
		}
		timeout = d
	}
	return cliclient.New(serverFlag, timeout)
}

// Exit codes. ExitNotFound mirrors a 404 from weaverd; everything
// else that reaches the API is ExitAPIError.
const (
	ExitSuccess     = 0
	ExitAPIError    = 1
	ExitInvalidArgs = 2
	ExitNotFound    = 3
)

// ExitError carries the process exit code alongside the error.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewAPIError wraps a cliclient request failure.
func NewAPIError(msg string, cause error) *ExitError {
	code := ExitAPIError
	var apiErr *cliclient.APIError
	if errors.As(cause, &apiErr) && apiErr.Status == 404 {
		code = ExitNotFound
	}
	return &ExitError{Code: code, Message: msg, Cause: cause}
}

// NewInvalidArgsError wraps a local validation failure.
func NewInvalidArgsError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidArgs, Message: msg, Cause: cause}
}

// HandleExitError prints err and terminates with its exit code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitAPIError)
}

// EmitJSON writes v to stdout as indented JSON.
func EmitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// EmitRaw writes a raw JSON response body to stdout re-indented for
// readability, falling back to a verbatim write if it isn't JSON.
func EmitRaw(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, werr := os.Stdout.Write(body)
		return werr
	}
	return EmitJSON(v)
}
