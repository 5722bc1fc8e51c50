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

// Package staging implements I/O staging (SPEC_FULL.md §4.9): input
// validation/materialization ahead of a step run, and output
// glob-resolution, transmission-mode resolution, and upload after a
// step run.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

// RunnerKind distinguishes whether a step executes locally (needs
// materialized file paths) or remotely (URLs may pass through as-is).
type RunnerKind int

const (
	RunnerLocal RunnerKind = iota
	RunnerRemote
)

// Stager stages Job inputs ahead of step execution and Job outputs
// after it.
type Stager struct {
	fetcher *fetch.Fetcher
}

// New returns a Stager backed by f.
func New(f *fetch.Fetcher) *Stager {
	return &Stager{fetcher: f}
}

// StageInputs builds the resolved inputs mapping a Runner receives,
// applying §4.9's per-type rules: literal validation, array
// order/occurs enforcement, vault:// pre-resolution, local
// materialization only when the runner needs it, and omission (not
// null) of unset optional inputs.
func (s *Stager) StageInputs(ctx context.Context, descriptors []store.IODescriptor, values map[string]any, workDir string, kind RunnerKind) (map[string]any, error) {
	staged := make(map[string]any, len(values))

	for _, d := range descriptors {
		v, present := values[d.ID]
		if !present {
			if d.MinOccurs > 0 {
				return nil, weavererr.New(weavererr.CodeSchemaInvalid, "staging", fmt.Sprintf("missing required input %q", d.ID))
			}
			continue
		}

		switch d.Type {
		case "literal", "enum", "bbox":
			if err := validateLiteral(d, v); err != nil {
				return nil, err
			}
			staged[d.ID] = v
		default: // complex: file/directory reference(s)
			resolved, err := s.stageComplex(ctx, d, v, workDir, kind)
			if err != nil {
				return nil, err
			}
			staged[d.ID] = resolved
		}
	}
	return staged, nil
}

func validateLiteral(d store.IODescriptor, v any) error {
	if len(d.AllowedValues) == 0 {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	for _, allowed := range d.AllowedValues {
		if allowed == s {
			return nil
		}
	}
	return weavererr.New(weavererr.CodeSchemaInvalid, "staging", fmt.Sprintf("input %q value %q is not in allowedValues", d.ID, s))
}

func (s *Stager) stageComplex(ctx context.Context, d store.IODescriptor, v any, workDir string, kind RunnerKind) (any, error) {
	switch refs := v.(type) {
	case []any:
		if d.MaxOccurs >= 0 && len(refs) > d.MaxOccurs {
			return nil, weavererr.New(weavererr.CodeSchemaInvalid, "staging", fmt.Sprintf("input %q has %d values, maxOccurs is %d", d.ID, len(refs), d.MaxOccurs))
		}
		out := make([]any, len(refs))
		for i, r := range refs {
			ref, ok := r.(string)
			if !ok {
				return nil, weavererr.New(weavererr.CodeSchemaInvalid, "staging", fmt.Sprintf("input %q[%d] is not a reference string", d.ID, i))
			}
			resolved, err := s.stageOne(ctx, ref, workDir, kind)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return s.stageOne(ctx, refs, workDir, kind)
	default:
		return nil, weavererr.New(weavererr.CodeSchemaInvalid, "staging", fmt.Sprintf("input %q is not a reference", d.ID))
	}
}

// stageOne resolves a single file/directory reference. A vault:// ref is
// always resolved through the Fetcher regardless of runner kind, since
// it is one-shot and must not be forwarded as a URL. Everything else is
// left as-is for a remote runner and materialized for a local one.
func (s *Stager) stageOne(ctx context.Context, ref string, workDir string, kind RunnerKind) (string, error) {
	isDir := strings.HasSuffix(ref, "/")
	if strings.HasPrefix(ref, "vault://") || kind == RunnerLocal {
		result, err := s.fetcher.Fetch(ctx, ref, fetch.Options{DestDir: workDir})
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

// OutputRequest is the submit-time per-output override consulted
// alongside a Process's default transmission mode.
type OutputRequest struct {
	Transmission string
	Format       string
}

// DestinationConfig controls where staged output bytes land.
type DestinationConfig struct {
	WPSOutputDir  string
	S3Bucket      string
	S3Region      string
}

// StagedOutput is one finalized job output ready for the Results
// document.
type StagedOutput struct {
	ID           string
	Location     string // local path or s3:// URL
	MediaType    string
	Transmission string // "value" or "reference"
	InlineValue  []byte // populated only when Transmission == "value" and the file is at most maxInlineBytes
}

// maxInlineBytes bounds how large a "value" transmission output may be
// before it is demoted to a reference link regardless of request, per
// §4.9 "literal outputs ... as small text files are inlined".
const maxInlineBytes = 64 * 1024

// Uploader is the subset of an S3 client StageOutputs needs to place a
// produced file at its configured bucket destination.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, localPath, mediaType string) error
}

// StageOutputs takes each declared output's produced file from
// producedPaths (keyed by output id; a declared output with no entry is
// skipped), resolves its transmission mode per §4.9's precedence:
// submit-time override > Process default > "value", and computes its
// destination.
// When dest points at S3, producedPaths' local files are uploaded
// through uploader; uploader may be nil when dest is a local directory.
func (s *Stager) StageOutputs(ctx context.Context, descriptors []store.IODescriptor, producedPaths map[string]string, overrides map[string]OutputRequest, processDefaults map[string]string, dest DestinationConfig, uploader Uploader, jobID, outputContext string) ([]StagedOutput, error) {
	var staged []StagedOutput

	for _, d := range descriptors {
		path, ok := producedPaths[d.ID]
		if !ok {
			continue
		}

		transmission := resolveTransmission(d.ID, overrides, processDefaults)
		location := destinationFor(dest, jobID, outputContext, d.ID, filepath.Base(path))
		mediaType := mediaTypeFor(d)

		out := StagedOutput{ID: d.ID, Location: location, MediaType: mediaType, Transmission: transmission}

		if dest.S3Bucket != "" {
			if uploader == nil {
				return nil, weavererr.New(weavererr.CodeUnprocessable, "staging", "s3 destination configured without an uploader")
			}
			bucket, key := splitS3Location(location)
			if err := uploader.Upload(ctx, bucket, key, path, mediaType); err != nil {
				return nil, weavererr.Wrap(weavererr.CodeRefUnreachable, "staging", err, "failed to upload output "+d.ID)
			}
		}

		if transmission == "value" {
			if inline, ok := readSmallTextFile(path); ok {
				out.InlineValue = inline
			}
		}

		staged = append(staged, out)
	}
	return staged, nil
}

func splitS3Location(location string) (bucket, key string) {
	trimmed := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return trimmed, ""
	}
	return parts[0], parts[1]
}

func readSmallTextFile(path string) ([]byte, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxInlineBytes {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func resolveTransmission(outputID string, overrides map[string]OutputRequest, processDefaults map[string]string) string {
	if o, ok := overrides[outputID]; ok && o.Transmission != "" {
		return o.Transmission
	}
	if t, ok := processDefaults[outputID]; ok && t != "" {
		return t
	}
	return "value"
}

func mediaTypeFor(d store.IODescriptor) string {
	for _, f := range d.Formats {
		if f.Default {
			return f.MediaType
		}
	}
	if len(d.Formats) > 0 {
		return d.Formats[0].MediaType
	}
	return ""
}

func destinationFor(dest DestinationConfig, jobID, outputContext, outputID, filename string) string {
	if dest.S3Bucket != "" {
		return "s3://" + dest.S3Bucket + "/" + strings.Join([]string{dest.S3Region, outputContext, jobID, outputID, filename}, "/")
	}
	return filepath.Join(dest.WPSOutputDir, outputContext, jobID, outputID, filename)
}

// StepResultPath builds the nested path the Step Dispatcher places a
// remote step's output under so later steps can locate it
// unambiguously, per §4.8 item 5.
func StepResultPath(workDir, stepID, outputID, filename string) string {
	return filepath.Join(workDir, stepID, outputID, filename)
}
