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

// Package dispatch implements the Step Dispatcher (SPEC_FULL.md §4.8):
// for each CWL workflow step it picks a runner from the step's
// requirements/hints, stages inputs, submits, monitors to completion
// with step-scoped retry, and stages outputs back into the layout the
// local CWL engine expects.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/tombee/weaver/internal/auth"
	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/metrics"
	"github.com/tombee/weaver/pkg/weavererr"
)

// Requirement class URIs that select a non-default runner, per §4.8.
const (
	ReqDocker   = "DockerRequirement"
	ReqCUDA     = "cwltool:CUDARequirement"
	ReqWPS1     = "weaver:WPS1Requirement"
	ReqOGCAPI   = "weaver:OGCAPIRequirement"
	ReqESGFCWT  = "weaver:ESGF-CWTRequirement"
	ReqBuiltin  = "weaver:BuiltinRequirement"
)

// StepRequest is everything a Runner needs to execute one workflow step.
// Inputs are already staged per §4.9 by the time a StepRequest is built:
// local-runner inputs carry materialized paths, remote-runner inputs may
// still be bare URLs.
type StepRequest struct {
	StepID  string
	JobID   string
	Tool    *cwl.Document
	Inputs  map[string]any
	WorkDir string
	Auth    *auth.Context
	GPU     bool
}

// StepOutput describes one produced output file or directory.
type StepOutput struct {
	Path        string
	MediaType   string
	IsDirectory bool
}

// StepResult is what a Runner returns on success.
type StepResult struct {
	Outputs    map[string]StepOutput
	StdoutPath string
	StderrPath string
}

// Runner executes one step to completion and is implemented once per
// requirement/hint class (local CWL engine, WPS-1/2, OGC-API, ESGF-CWT,
// built-in).
type Runner interface {
	Run(ctx context.Context, req StepRequest) (StepResult, error)
}

// RetryPolicy bounds step-level retry of a failed remote submission,
// adapted from the exponential-backoff-with-jitter shape used for HTTP
// transport retries elsewhere in this codebase, generalized here to the
// taxonomy's recoverable-error whitelist rather than raw status codes.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryPolicy is §4.8 item 4's "retry up to N attempts": 3
// attempts, with a 1s initial backoff doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, BackoffFactor: 2.0}
}

// recoverableCodes is the whitelist of §4.8 item 4: "network, 5xx, 408,
// 429, XML parse of a recoverable status". Taxonomy codes that map onto
// those conditions are retried; everything else propagates immediately.
var recoverableCodes = map[weavererr.Code]bool{
	weavererr.CodeRefUnreachable: true,
	weavererr.CodeRunnerTimeout:  true,
}

// Dispatcher selects and invokes a Runner per step.
type Dispatcher struct {
	runners map[string]Runner
	builtin Runner
	local   Runner
	retry   RetryPolicy
}

// Config wires one Runner implementation per requirement class.
type Config struct {
	Local   Runner // DockerRequirement, cwltool:CUDARequirement
	WPS1    Runner // weaver:WPS1Requirement
	OGCAPI  Runner // weaver:OGCAPIRequirement
	ESGFCWT Runner // weaver:ESGF-CWTRequirement
	Builtin Runner // weaver:BuiltinRequirement
	Retry   RetryPolicy
}

// New builds a Dispatcher from cfg. A zero Retry (MaxAttempts == 0) uses
// DefaultRetryPolicy.
func New(cfg Config) *Dispatcher {
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Dispatcher{
		runners: map[string]Runner{
			ReqWPS1:    cfg.WPS1,
			ReqOGCAPI:  cfg.OGCAPI,
			ReqESGFCWT: cfg.ESGFCWT,
			ReqBuiltin: cfg.Builtin,
		},
		local: cfg.Local,
		retry: retry,
	}
}

// selectRunner implements §4.8's requirement/hint precedence: hints and
// requirements are searched together, and the first recognized class
// wins. A step with no recognized class falls back to the local runner,
// since plain CommandLineTool steps carry only a (possibly implicit)
// DockerRequirement.
func (d *Dispatcher) selectRunner(step cwl.WorkflowStep) (r Runner, gpu bool) {
	all := append(append([]cwl.Requirement{}, step.Requirements...), step.Hints...)
	for _, req := range all {
		switch req.Class {
		case ReqCUDA:
			return d.local, true
		case ReqWPS1, ReqOGCAPI, ReqESGFCWT, ReqBuiltin:
			if runner, ok := d.runners[req.Class]; ok && runner != nil {
				return runner, false
			}
		case ReqDocker:
			return d.local, false
		}
	}
	return d.local, false
}

// Dispatch runs one step, retrying per d.retry when the failure is on
// the recoverable whitelist. Authorization is forwarded to every
// sub-request for the run via req.Auth, per §4.8 "Authorization
// forwarding".
func (d *Dispatcher) Dispatch(ctx context.Context, step cwl.WorkflowStep, req StepRequest) (StepResult, error) {
	runner, gpu := d.selectRunner(step)
	if runner == nil {
		return StepResult{}, weavererr.NewStepFailed(step.ID, "no runner available for step requirements", nil)
	}
	req.GPU = gpu
	req.StepID = step.ID

	runnerLabel := runnerLabelFor(step)
	start := time.Now()
	result, err := d.runWithRetry(ctx, runner, req, runnerLabel)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.StepDuration.WithLabelValues(runnerLabel, status).Observe(time.Since(start).Seconds())
	return result, err
}

func (d *Dispatcher) runWithRetry(ctx context.Context, runner Runner, req StepRequest, runnerLabel string) (StepResult, error) {
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		result, err := runner.Run(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRecoverable(err) || attempt == d.retry.MaxAttempts {
			return StepResult{}, weavererr.NewStepFailed(req.StepID, "step execution failed", err)
		}

		metrics.StepRetries.WithLabelValues(runnerLabel, reasonFor(err)).Inc()

		delay := backoffDelay(d.retry, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		}
	}
	return StepResult{}, weavererr.NewStepFailed(req.StepID, "step execution failed", lastErr)
}

func isRecoverable(err error) bool {
	if as, ok := err.(interface{ Code() weavererr.Code }); ok {
		return recoverableCodes[as.Code()]
	}
	return false
}

func reasonFor(err error) string {
	if as, ok := err.(interface{ Code() weavererr.Code }); ok {
		return string(as.Code())
	}
	return "unknown"
}

func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	base := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		base *= p.BackoffFactor
	}
	if base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}
	jitter := time.Duration(rand.Int63n(101)) * time.Millisecond
	return time.Duration(base) + jitter
}

func runnerLabelFor(step cwl.WorkflowStep) string {
	all := append(append([]cwl.Requirement{}, step.Requirements...), step.Hints...)
	for _, req := range all {
		switch req.Class {
		case ReqCUDA, ReqWPS1, ReqOGCAPI, ReqESGFCWT, ReqBuiltin, ReqDocker:
			return req.Class
		}
	}
	return "local"
}
