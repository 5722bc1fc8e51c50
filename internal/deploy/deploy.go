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

// Package deploy implements the Deploy/Patch/Put/Undeploy pipeline that
// persists a canonical Process description (SPEC_FULL.md §4.5), built on
// top of the CWL loader, the Process Merger, and the Fetcher.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/process"
	"github.com/tombee/weaver/pkg/weavererr"
)

// Request describes one Deploy (or Patch/Put) submission. Exactly one of
// InlineCWL, CWLURL, OWSContextHref, OGCAPIURL, WPSURL should be set; the
// pipeline resolves the execution source by the precedence §4.5 step 1
// specifies.
type Request struct {
	ProcessID   string
	Title       string
	Description string
	Keywords    []string

	InlineCWL      []byte
	CWLURL         string
	OWSContextHref string
	OGCAPIURL      string
	WPSURL         string
	ContentType    string

	JobControlOptions  []string
	OutputTransmission []string
	Visibility         store.Visibility
}

// Pipeline deploys, revises, and retires Process descriptions.
type Pipeline struct {
	store   store.ProcessStore
	lister  store.ProcessLister
	jobs    store.JobLister
	fetcher *fetch.Fetcher
	merger  *process.Merger
	logger  *slog.Logger
}

// Config wires a Pipeline's collaborators.
type Config struct {
	Store   store.ProcessStore
	Lister  store.ProcessLister
	Jobs    store.JobLister
	Fetcher *fetch.Fetcher
	Merger  *process.Merger
	Logger  *slog.Logger
}

// New returns a ready-to-use Pipeline.
func New(cfg Config) *Pipeline {
	merger := cfg.Merger
	if merger == nil {
		merger = process.NewMerger()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   cfg.Store,
		lister:  cfg.Lister,
		jobs:    cfg.Jobs,
		fetcher: cfg.Fetcher,
		merger:  merger,
		logger:  logger,
	}
}

// Deploy runs the full pipeline of §4.5: select the execution source,
// load and merge its I/O description, and persist the Process at
// revision_id/version 1.0.0.
func (p *Pipeline) Deploy(ctx context.Context, req Request) (*store.Process, error) {
	if req.ProcessID == "" {
		return nil, weavererr.New(weavererr.CodeSchemaInvalid, "deploy", "process id is required")
	}

	doc, procType, unit, err := p.resolveSource(ctx, req)
	if err != nil {
		return nil, err
	}

	proc := &store.Process{
		ID:                 req.ProcessID,
		Version:            "1.0.0",
		RevisionID:         uuid.NewString(),
		Title:              req.Title,
		Description:        req.Description,
		Keywords:           req.Keywords,
		JobControlOptions:  defaultJobControlOptions(req.JobControlOptions),
		OutputTransmission: defaultOutputTransmission(req.OutputTransmission),
		Visibility:         defaultVisibility(req.Visibility),
		Type:               procType,
		ExecutionUnit:      unit,
	}

	if doc != nil {
		if err := p.mergeIO(proc, doc); err != nil {
			return nil, err
		}
	}

	if err := p.store.CreateProcess(ctx, proc); err != nil {
		if err == store.ErrExists {
			return nil, weavererr.New(weavererr.CodeConflictInUse, "deploy", fmt.Sprintf("process %q is already deployed", req.ProcessID))
		}
		return nil, err
	}

	p.logger.Info("process deployed", "process_id", proc.ID, "version", proc.Version, "revision_id", proc.RevisionID)
	return proc, nil
}

// Patch applies a minor/patch revision: metadata and jobControlOptions
// only, per §4.5. The MINOR or PATCH component of the current latest
// revision's version is bumped; a new revision_id is assigned under the
// same id.
func (p *Pipeline) Patch(ctx context.Context, id string, req Request, bumpMinor bool) (*store.Process, error) {
	current, err := p.store.GetProcess(ctx, id, "")
	if err != nil {
		return nil, err
	}

	next := cloneProcess(current)
	next.RevisionID = uuid.NewString()
	next.Version = bumpVersion(current.Version, bumpMinor)
	if req.Title != "" {
		next.Title = req.Title
	}
	if req.Description != "" {
		next.Description = req.Description
	}
	if req.Keywords != nil {
		next.Keywords = req.Keywords
	}
	if req.JobControlOptions != nil {
		next.JobControlOptions = req.JobControlOptions
	}

	if err := p.store.CreateProcess(ctx, next); err != nil {
		return nil, err
	}
	p.logger.Info("process patched", "process_id", id, "version", next.Version, "revision_id", next.RevisionID)
	return next, nil
}

// Put performs a major revision: equivalent to redeploying under the same
// id. The prior revision remains addressable as {id}:{old_version}.
func (p *Pipeline) Put(ctx context.Context, id string, req Request) (*store.Process, error) {
	current, err := p.store.GetProcess(ctx, id, "")
	if err != nil {
		return nil, err
	}

	req.ProcessID = id
	doc, procType, unit, err := p.resolveSource(ctx, req)
	if err != nil {
		return nil, err
	}

	next := &store.Process{
		ID:                 id,
		Version:            bumpMajor(current.Version),
		RevisionID:         uuid.NewString(),
		Title:              req.Title,
		Description:        req.Description,
		Keywords:           req.Keywords,
		JobControlOptions:  defaultJobControlOptions(req.JobControlOptions),
		OutputTransmission: defaultOutputTransmission(req.OutputTransmission),
		Visibility:         defaultVisibility(req.Visibility),
		Type:               procType,
		ExecutionUnit:      unit,
	}
	if doc != nil {
		if err := p.mergeIO(next, doc); err != nil {
			return nil, err
		}
	}

	if err := p.store.CreateProcess(ctx, next); err != nil {
		return nil, err
	}
	p.logger.Info("process put (major revision)", "process_id", id, "version", next.Version, "revision_id", next.RevisionID, "previous_version", current.Version)
	return next, nil
}

// Undeploy tombstones a Process, refusing when any non-terminal Job
// still references it.
func (p *Pipeline) Undeploy(ctx context.Context, id, version string) error {
	if p.jobs != nil {
		jobs, err := p.jobs.ListJobs(ctx, store.JobFilter{ProcessID: id})
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if !j.Status.Terminal() {
				return weavererr.New(weavererr.CodeConflictInUse, "deploy", fmt.Sprintf("process %q has a non-terminal job %q", id, j.ID))
			}
		}
	}
	return p.store.DeleteProcess(ctx, id, version)
}

func (p *Pipeline) mergeIO(proc *store.Process, doc *cwl.Document) error {
	inputIDs := make(map[string]bool)
	for _, in := range doc.Inputs {
		inputIDs[in.ID] = true
	}
	for id := range inputIDs {
		in := findCWLInput(doc.Inputs, id)
		merged, err := p.merger.MergeInput(id, in, nil, nil)
		if err != nil {
			return mergeError(err)
		}
		proc.Inputs = append(proc.Inputs, merged)
	}

	outputIDs := make(map[string]bool)
	for _, out := range doc.Outputs {
		outputIDs[out.ID] = true
	}
	for id := range outputIDs {
		out := findCWLOutput(doc.Outputs, id)
		merged, err := p.merger.MergeInput(id, cwlInputFromOutput(out), nil, nil)
		if err != nil {
			return mergeError(err)
		}
		proc.Outputs = append(proc.Outputs, merged)
	}
	return nil
}

func mergeError(err error) error {
	if _, ok := err.(*process.DescriptionMismatchError); ok {
		return weavererr.Wrap(weavererr.CodeDescriptionMismatch, "deploy", err, "process description mismatch")
	}
	return weavererr.Wrap(weavererr.CodeSchemaInvalid, "deploy", err, "process description invalid")
}

func findCWLInput(inputs []cwl.InputParameter, id string) *cwl.InputParameter {
	for i := range inputs {
		if inputs[i].ID == id {
			return &inputs[i]
		}
	}
	return nil
}

func findCWLOutput(outputs []cwl.OutputParameter, id string) *cwl.OutputParameter {
	for i := range outputs {
		if outputs[i].ID == id {
			return &outputs[i]
		}
	}
	return nil
}

// cwlInputFromOutput adapts an OutputParameter to the InputParameter
// shape MergeInput expects, since the Merger's type/format rules are
// identical for inputs and outputs.
func cwlInputFromOutput(out *cwl.OutputParameter) *cwl.InputParameter {
	if out == nil {
		return nil
	}
	return &cwl.InputParameter{ID: out.ID, Type: out.Type, Format: out.Format, Doc: out.Doc}
}

func defaultJobControlOptions(opts []string) []string {
	if len(opts) > 0 {
		return opts
	}
	return []string{"async-execute", "sync-execute"}
}

func defaultOutputTransmission(modes []string) []string {
	if len(modes) > 0 {
		return modes
	}
	return []string{"value", "reference"}
}

func defaultVisibility(v store.Visibility) store.Visibility {
	if v != "" {
		return v
	}
	return store.VisibilityPublic
}

func cloneProcess(p *store.Process) *store.Process {
	cp := *p
	cp.Inputs = append([]store.IODescriptor(nil), p.Inputs...)
	cp.Outputs = append([]store.IODescriptor(nil), p.Outputs...)
	cp.Keywords = append([]string(nil), p.Keywords...)
	return &cp
}

// bumpVersion increments the minor or patch component of a semver-shaped
// "major.minor.patch" version string, resetting lower components to 0
// only for the minor bump (patch bumps never touch minor).
func bumpVersion(version string, bumpMinor bool) string {
	major, minor, patch := parseVersion(version)
	if bumpMinor {
		minor++
		patch = 0
	} else {
		patch++
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

func bumpMajor(version string) string {
	major, _, _ := parseVersion(version)
	return fmt.Sprintf("%d.0.0", major+1)
}

func parseVersion(version string) (major, minor, patch int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		patch, _ = strconv.Atoi(parts[2])
	}
	return major, minor, patch
}
