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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/weaver/internal/auth"
	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/jobrunner"
	"github.com/tombee/weaver/internal/staging"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

// ProcessDescriber resolves a Provider-delegated process description on
// demand, implemented by internal/provider.Registry. A provider-backed
// Job's Process is never persisted, so the JobExecutor asks for it fresh
// on every run.
type ProcessDescriber interface {
	DescribeProcess(ctx context.Context, providerID, processID string) (*store.Process, error)
}

// JobExecutor implements jobrunner.Executor: it loads the Process behind
// a Job, resolves its CWL document (if any), runs its step or steps
// through a Dispatcher, and stages results back into the Job's output
// descriptors (SPEC_FULL.md §4.8, §4.9).
type JobExecutor struct {
	processes store.ProcessStore
	providers ProcessDescriber
	fetcher   *fetch.Fetcher
	stager    *staging.Stager
	auth      *auth.Registry

	local   Runner
	builtin Runner
	retry   RetryPolicy

	workDirRoot string
	dest        staging.DestinationConfig
	uploader    staging.Uploader
}

// JobExecutorConfig wires a JobExecutor's collaborators.
type JobExecutorConfig struct {
	Processes   store.ProcessStore
	Providers   ProcessDescriber
	Fetcher     *fetch.Fetcher
	Stager      *staging.Stager
	Auth        *auth.Registry
	Local       Runner
	Builtin     Runner
	Retry       RetryPolicy
	WorkDirRoot string
	Destination staging.DestinationConfig
	Uploader    staging.Uploader
}

// NewJobExecutor returns a ready-to-use JobExecutor. A zero Retry uses
// DefaultRetryPolicy.
func NewJobExecutor(cfg JobExecutorConfig) *JobExecutor {
	return &JobExecutor{
		processes:   cfg.Processes,
		providers:   cfg.Providers,
		fetcher:     cfg.Fetcher,
		stager:      cfg.Stager,
		auth:        cfg.Auth,
		local:       cfg.Local,
		builtin:     cfg.Builtin,
		retry:       cfg.Retry,
		workDirRoot: cfg.WorkDirRoot,
		dest:        cfg.Destination,
		uploader:    cfg.Uploader,
	}
}

var _ jobrunner.Executor = (*JobExecutor)(nil)

// Execute runs job's Process to completion. It satisfies
// jobrunner.Executor: the Pool has already transitioned job to running
// and hands Execute a context it will cancel on a dismiss request.
func (e *JobExecutor) Execute(ctx context.Context, job *store.Job, progress jobrunner.ProgressFunc) (map[string]any, store.Statistics, error) {
	start := time.Now()

	authCtx := e.auth.Take(job.ID)
	ctx = auth.WithContext(ctx, authCtx)

	proc, err := e.loadProcess(ctx, job)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	workDir := filepath.Join(e.workDirRoot, job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, store.Statistics{}, weavererr.New(weavererr.CodeUnprocessable, "executor", "cannot create job work directory: "+err.Error())
	}

	var doc *cwl.Document
	if proc.Type == store.ProcessTypeApplication || proc.Type == store.ProcessTypeWorkflow {
		doc, err = e.loadDocument(ctx, proc)
		if err != nil {
			return nil, store.Statistics{}, err
		}
	}

	// Top-level inputs are validated and vault-resolved once here, using
	// the Process's canonical I/O descriptors. RunnerRemote leaves every
	// non-vault reference untouched, since the eventual consumer's
	// locality (local tool, remote step, or a mix across a workflow's
	// steps) is only known once a step actually dispatches (§4.9).
	progress(5, "info", "staging job inputs")
	jobInputs, err := e.stager.StageInputs(ctx, proc.Inputs, job.Inputs, workDir, staging.RunnerRemote)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	if doc != nil && doc.Class == cwl.ClassWorkflow {
		return e.executeWorkflow(ctx, job, proc, doc, jobInputs, authCtx, workDir, start, progress)
	}
	return e.executeSingleStep(ctx, job, proc, doc, jobInputs, authCtx, workDir, start, progress)
}

// loadProcess resolves job's Process, going through the Provider
// Registry for a provider-delegated Job rather than the local store,
// per the "child processes are never persisted" invariant.
func (e *JobExecutor) loadProcess(ctx context.Context, job *store.Job) (*store.Process, error) {
	if job.Type == store.JobTypeProvider {
		if e.providers == nil {
			return nil, weavererr.New(weavererr.CodeUnprocessable, "executor", "job targets a provider process but no provider registry is configured")
		}
		return e.providers.DescribeProcess(ctx, job.ProviderID, job.ProcessID)
	}
	return e.processes.GetProcess(ctx, job.ProcessID, job.ProcessVersion)
}

// loadDocument returns the Process's CWL document. When it was deployed
// inline, the document text is already persisted on the Process; when it
// was deployed from a CWL URL or an OWS Context reference, only the URL
// itself is persisted (SPEC_FULL.md §4.5 source precedence keeps no copy
// of a fetched document), so it is re-fetched and re-parsed here.
func (e *JobExecutor) loadDocument(ctx context.Context, proc *store.Process) (*cwl.Document, error) {
	if proc.ExecutionUnit.InlineCWL != "" {
		return cwl.Parse([]byte(proc.ExecutionUnit.InlineCWL))
	}
	if proc.ExecutionUnit.CWLURL == "" {
		return nil, weavererr.New(weavererr.CodeUnprocessable, "executor", "process has no CWL source to execute")
	}
	if e.fetcher == nil {
		return nil, weavererr.New(weavererr.CodeUnprocessable, "executor", "no fetcher configured to resolve the process's CWL URL")
	}
	result, err := e.fetcher.Fetch(ctx, proc.ExecutionUnit.CWLURL, fetch.Options{})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(result.LocalPath)
	if err != nil {
		return nil, weavererr.Wrap(weavererr.CodeRefUnreachable, "executor", err, "failed to read fetched CWL document")
	}
	return cwl.Parse(data)
}

// executeSingleStep runs a Process that is not a multi-step workflow: a
// builtin, a single CommandLineTool/ExpressionTool, or a process wholly
// delegated to a remote WPS/OGC-API/provider endpoint. All of these
// dispatch as exactly one implicit step.
func (e *JobExecutor) executeSingleStep(ctx context.Context, job *store.Job, proc *store.Process, doc *cwl.Document, jobInputs map[string]any, authCtx *auth.Context, workDir string, start time.Time, progress jobrunner.ProgressFunc) (map[string]any, store.Statistics, error) {
	step, tool, err := e.implicitStep(proc, doc)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	dispatcher, err := e.dispatcherFor([]cwl.WorkflowStep{step})
	if err != nil {
		return nil, store.Statistics{}, err
	}

	kind := kindForStep(step)
	inputs, err := e.stageForConsumer(ctx, proc.Inputs, jobInputs, workDir, kind)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	progress(20, "info", fmt.Sprintf("dispatching %s", proc.ID))
	result, err := dispatcher.Dispatch(ctx, step, StepRequest{JobID: job.ID, Tool: tool, Inputs: inputs, WorkDir: workDir, Auth: authCtx})
	if err != nil {
		return nil, store.Statistics{StepDurations: map[string]time.Duration{step.ID: time.Since(start)}}, err
	}
	progress(80, "info", "step completed, staging outputs")

	results, outputBytes, err := e.finalizeOutputs(ctx, job, proc, result)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	stats := store.Statistics{
		Duration:      time.Since(start),
		StepDurations: map[string]time.Duration{step.ID: time.Since(start)},
		OutputBytes:   outputBytes,
	}
	progress(100, "info", "job completed")
	return results, stats, nil
}

// implicitStep synthesizes the single WorkflowStep and CWL tool document
// a non-workflow Process dispatches as, selecting the requirement class
// from the Process's storage kind when it carries no CWL document of its
// own.
func (e *JobExecutor) implicitStep(proc *store.Process, doc *cwl.Document) (cwl.WorkflowStep, *cwl.Document, error) {
	step := cwl.WorkflowStep{ID: "main", Run: proc.ID}

	switch proc.Type {
	case store.ProcessTypeBuiltin:
		step.Requirements = []cwl.Requirement{{Class: ReqBuiltin}}
		return step, &cwl.Document{ID: proc.ID}, nil
	case store.ProcessTypeWPS1:
		step.Requirements = []cwl.Requirement{{Class: ReqWPS1, Fields: map[string]any{"url": proc.ExecutionUnit.WPSURL, "process": proc.ID}}}
		return step, &cwl.Document{ID: proc.ID}, nil
	case store.ProcessTypeOGCAPI:
		step.Requirements = []cwl.Requirement{{Class: ReqOGCAPI, Fields: map[string]any{"url": proc.ExecutionUnit.OGCAPIURL, "process": proc.ID}}}
		return step, &cwl.Document{ID: proc.ID}, nil
	case store.ProcessTypeApplication:
		if doc == nil {
			return cwl.WorkflowStep{}, nil, weavererr.New(weavererr.CodeUnprocessable, "executor", "application process has no CWL document")
		}
		step.Requirements = doc.Requirements
		step.Hints = doc.Hints
		return step, doc, nil
	default:
		return cwl.WorkflowStep{}, nil, weavererr.New(weavererr.CodeUnprocessable, "executor", "unsupported process type "+string(proc.Type))
	}
}

// executeWorkflow runs every step of a CWL Workflow document in
// dependency order, threading each step's outputs into whichever
// downstream steps reference them, then resolves the workflow's
// top-level outputs into the Job's result set.
func (e *JobExecutor) executeWorkflow(ctx context.Context, job *store.Job, proc *store.Process, doc *cwl.Document, jobInputs map[string]any, authCtx *auth.Context, workDir string, start time.Time, progress jobrunner.ProgressFunc) (map[string]any, store.Statistics, error) {
	ordered, err := topoOrder(doc.Steps)
	if err != nil {
		return nil, store.Statistics{}, weavererr.Wrap(weavererr.CodeSchemaInvalid, "executor", err, "cannot order workflow steps")
	}

	dispatcher, err := e.dispatcherFor(doc.Steps)
	if err != nil {
		return nil, store.Statistics{}, err
	}

	stepOutputs := make(map[string]map[string]string, len(ordered))
	stepDurations := make(map[string]time.Duration, len(ordered))

	for i, step := range ordered {
		stepWorkDir := filepath.Join(workDir, step.ID)
		kind := kindForStep(step)

		inputs, err := e.resolveStepInputs(ctx, step, proc.Inputs, jobInputs, stepOutputs, stepWorkDir, kind)
		if err != nil {
			return nil, store.Statistics{StepDurations: stepDurations}, err
		}

		stepStart := time.Now()
		progress(5+int(float64(i)/float64(len(ordered))*85), "info", fmt.Sprintf("dispatching step %s", step.ID))
		result, err := dispatcher.Dispatch(ctx, step, StepRequest{JobID: job.ID, Tool: &cwl.Document{ID: step.Run}, Inputs: inputs, WorkDir: stepWorkDir, Auth: authCtx})
		stepDurations[step.ID] = time.Since(stepStart)
		if err != nil {
			return nil, store.Statistics{StepDurations: stepDurations}, err
		}

		outPaths := make(map[string]string, len(result.Outputs))
		for id, out := range result.Outputs {
			outPaths[id] = out.Path
		}
		stepOutputs[step.ID] = outPaths
	}

	progress(90, "info", "workflow steps completed, staging outputs")

	producedPaths := make(map[string]string, len(doc.Outputs))
	for _, o := range doc.Outputs {
		stepID, outID, ok := splitStepSource(o.OutputSource)
		if !ok {
			continue
		}
		if path, ok := stepOutputs[stepID][outID]; ok {
			producedPaths[o.ID] = path
		}
	}

	results, outputBytes, err := e.finalizeOutputs(ctx, job, proc, StepResult{Outputs: toStepOutputs(producedPaths)})
	if err != nil {
		return nil, store.Statistics{StepDurations: stepDurations}, err
	}

	stats := store.Statistics{Duration: time.Since(start), StepDurations: stepDurations, OutputBytes: outputBytes}
	progress(100, "info", "job completed")
	return results, stats, nil
}

func toStepOutputs(paths map[string]string) map[string]StepOutput {
	out := make(map[string]StepOutput, len(paths))
	for id, p := range paths {
		out[id] = StepOutput{Path: p}
	}
	return out
}

// resolveStepInputs builds one step's dispatch-ready inputs map from its
// `in` mapping: a source naming "stepID/outputID" reads a prior step's
// produced path and is always staged for kind; a bare source names a
// top-level Process input and is staged only when that input's
// descriptor says it is complex (a literal value is forwarded as-is,
// since it was already validated once at the top of Execute).
func (e *JobExecutor) resolveStepInputs(ctx context.Context, step cwl.WorkflowStep, descriptors []store.IODescriptor, jobInputs map[string]any, stepOutputs map[string]map[string]string, workDir string, kind staging.RunnerKind) (map[string]any, error) {
	byID := make(map[string]store.IODescriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}

	resolved := make(map[string]any, len(step.In))
	for param, source := range step.In {
		if stepID, outID, ok := splitStepSource(source); ok {
			outputs, ok := stepOutputs[stepID]
			if !ok {
				return nil, weavererr.NewStepFailed(step.ID, fmt.Sprintf("input %q references unresolved step %q", param, stepID), nil)
			}
			path, ok := outputs[outID]
			if !ok {
				return nil, weavererr.NewStepFailed(step.ID, fmt.Sprintf("step %q has no output %q", stepID, outID), nil)
			}
			staged, err := e.stageRef(ctx, path, workDir, kind)
			if err != nil {
				return nil, err
			}
			resolved[param] = staged
			continue
		}

		v, present := jobInputs[source]
		if !present {
			continue
		}
		d, known := byID[source]
		if known && isComplexType(d.Type) {
			staged, err := e.stageValue(ctx, v, workDir, kind)
			if err != nil {
				return nil, err
			}
			resolved[param] = staged
		} else {
			resolved[param] = v
		}
	}
	return resolved, nil
}

// stageForConsumer re-stages the already vault-resolved top-level job
// inputs for the single implicit step's chosen runner locality.
func (e *JobExecutor) stageForConsumer(ctx context.Context, descriptors []store.IODescriptor, jobInputs map[string]any, workDir string, kind staging.RunnerKind) (map[string]any, error) {
	out := make(map[string]any, len(jobInputs))
	byID := make(map[string]store.IODescriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}
	for id, v := range jobInputs {
		if isComplexType(byID[id].Type) {
			staged, err := e.stageValue(ctx, v, workDir, kind)
			if err != nil {
				return nil, err
			}
			out[id] = staged
			continue
		}
		out[id] = v
	}
	return out, nil
}

func isComplexType(t string) bool {
	switch t {
	case "literal", "enum", "bbox":
		return false
	default:
		return true
	}
}

// stageValue stages a single input value, which may be a reference
// string or an array of reference strings, for kind's locality.
func (e *JobExecutor) stageValue(ctx context.Context, v any, workDir string, kind staging.RunnerKind) (any, error) {
	switch vv := v.(type) {
	case string:
		return e.stageRef(ctx, vv, workDir, kind)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			s, ok := item.(string)
			if !ok {
				out[i] = item
				continue
			}
			staged, err := e.stageRef(ctx, s, workDir, kind)
			if err != nil {
				return nil, err
			}
			out[i] = staged
		}
		return out, nil
	default:
		return v, nil
	}
}

// stageRef materializes a complex reference for a local runner (every
// complex local-runner input is fetched, per §4.9), and leaves it
// untouched for a remote runner except for a vault:// reference, which
// must always be resolved since it is one-shot and must never be
// forwarded to a third party as a URL.
func (e *JobExecutor) stageRef(ctx context.Context, ref string, workDir string, kind staging.RunnerKind) (string, error) {
	if kind == staging.RunnerLocal || strings.HasPrefix(ref, "vault://") {
		isDir := strings.HasSuffix(ref, "/")
		result, err := e.fetcher.Fetch(ctx, ref, fetch.Options{DestDir: workDir})
		if err != nil {
			return "", err
		}
		if isDir {
			return filepath.Dir(result.LocalPath), nil
		}
		return result.LocalPath, nil
	}
	return ref, nil
}

// finalizeOutputs stages a completed step's (or workflow's) produced
// paths into the Job's declared outputs and builds the results document.
func (e *JobExecutor) finalizeOutputs(ctx context.Context, job *store.Job, proc *store.Process, result StepResult) (map[string]any, int64, error) {
	producedPaths := make(map[string]string, len(result.Outputs))
	for id, out := range result.Outputs {
		producedPaths[id] = out.Path
	}

	overrides := make(map[string]staging.OutputRequest, len(job.OutputsRequest))
	for id, spec := range job.OutputsRequest {
		overrides[id] = staging.OutputRequest{Transmission: spec.Transmission, Format: spec.Format}
	}

	defaults := defaultTransmissionModes(proc)

	staged, err := e.stager.StageOutputs(ctx, proc.Outputs, producedPaths, overrides, defaults, e.dest, e.uploader, job.ID, job.OutputContext)
	if err != nil {
		return nil, 0, err
	}

	results := make(map[string]any, len(staged))
	var total int64
	for _, so := range staged {
		if so.InlineValue != nil {
			results[so.ID] = string(so.InlineValue)
			total += int64(len(so.InlineValue))
			continue
		}
		results[so.ID] = map[string]any{"href": so.Location, "type": so.MediaType}
	}
	return results, total, nil
}

// defaultTransmissionModes applies a Process's single process-wide
// default output transmission mode (the first entry of
// OutputTransmission, per SPEC_FULL.md §4.5's default of "value") to
// every declared output; a submit-time override in Job.OutputsRequest
// still takes precedence over this in StageOutputs.
func defaultTransmissionModes(proc *store.Process) map[string]string {
	mode := "value"
	if len(proc.OutputTransmission) > 0 {
		mode = proc.OutputTransmission[0]
	}
	defaults := make(map[string]string, len(proc.Outputs))
	for _, d := range proc.Outputs {
		defaults[d.ID] = mode
	}
	return defaults
}

// dispatcherFor builds a Dispatcher whose remote runners resolve a
// step's base URL and remote process/operation identifier from that
// step's own requirement/hint fields, since that mapping is per-Job and
// per-document rather than global (SPEC_FULL.md §4.8).
func (e *JobExecutor) dispatcherFor(steps []cwl.WorkflowStep) (*Dispatcher, error) {
	endpointFor := stepEndpoint(steps)

	wps1, err := NewWPS1Runner(endpointFor)
	if err != nil {
		return nil, err
	}
	ogcapi, err := NewOGCAPIRunner(endpointFor)
	if err != nil {
		return nil, err
	}
	esgfcwt, err := NewESGFCWTRunner(endpointFor)
	if err != nil {
		return nil, err
	}

	return New(Config{
		Local:   e.local,
		Builtin: e.builtin,
		WPS1:    wps1,
		OGCAPI:  ogcapi,
		ESGFCWT: esgfcwt,
		Retry:   e.retry,
	}), nil
}

// stepEndpoint returns the endpointFor closure every remote Runner
// needs: given a step ID, the base URL and remote process (or CWT
// operation) identifier carried in that step's WPS1/OGCAPI/ESGFCWT
// requirement or hint fields. The remote identifier falls back to the
// step's `run` reference when no explicit `process`/`operation` field is
// present, since a remote-dispatched step commonly names the delegate
// process directly as its run target.
func stepEndpoint(steps []cwl.WorkflowStep) func(stepID string) (string, string) {
	byID := make(map[string]cwl.WorkflowStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	return func(stepID string) (string, string) {
		step := byID[stepID]
		all := append(append([]cwl.Requirement{}, step.Requirements...), step.Hints...)
		for _, r := range all {
			switch r.Class {
			case ReqWPS1, ReqOGCAPI, ReqESGFCWT:
				url, _ := r.Fields["url"].(string)
				id, _ := r.Fields["process"].(string)
				if id == "" {
					id, _ = r.Fields["operation"].(string)
				}
				if id == "" {
					id = step.Run
				}
				return url, id
			}
		}
		return "", step.Run
	}
}

// kindForStep reports whether step dispatches to a local or remote
// Runner, matching Dispatcher.selectRunner's own requirement/hint scan:
// a built-in runs in-process against locally staged paths, so it is
// treated as local for staging purposes.
func kindForStep(step cwl.WorkflowStep) staging.RunnerKind {
	all := append(append([]cwl.Requirement{}, step.Requirements...), step.Hints...)
	for _, r := range all {
		switch r.Class {
		case ReqWPS1, ReqOGCAPI, ReqESGFCWT:
			return staging.RunnerRemote
		case ReqCUDA, ReqDocker, ReqBuiltin:
			return staging.RunnerLocal
		}
	}
	return staging.RunnerLocal
}

// splitStepSource splits a CWL workflow step `in` source of the form
// "stepID/outputID" from a bare top-level input ID.
func splitStepSource(source string) (stepID, outputID string, ok bool) {
	i := strings.Index(source, "/")
	if i < 0 {
		return "", "", false
	}
	return source[:i], source[i+1:], true
}

// topoOrder orders steps so that every step following a dependency whose
// source names another step's output runs after that step, per CWL's
// Workflow data-flow semantics. Ties keep the order of steps as given,
// which is the declaration order only for a list-form `steps` (a
// map-form `steps` reaches here in no defined order).
func topoOrder(steps []cwl.WorkflowStep) ([]cwl.WorkflowStep, error) {
	index := make(map[string]bool, len(steps))
	for _, s := range steps {
		index[s.ID] = true
	}

	done := make(map[string]bool, len(steps))
	ordered := make([]cwl.WorkflowStep, 0, len(steps))

	for len(ordered) < len(steps) {
		progressed := false
		for _, s := range steps {
			if done[s.ID] {
				continue
			}
			if stepReady(s, index, done) {
				ordered = append(ordered, s)
				done[s.ID] = true
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("workflow step graph has an unresolved or circular dependency")
		}
	}
	return ordered, nil
}

func stepReady(step cwl.WorkflowStep, index map[string]bool, done map[string]bool) bool {
	for _, source := range step.In {
		stepID, _, ok := splitStepSource(source)
		if !ok || !index[stepID] {
			continue // not a step reference, or refers outside this document
		}
		if !done[stepID] {
			return false
		}
	}
	return true
}
