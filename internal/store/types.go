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

// Package store defines the persisted records of the execution core
// (Process, Provider, Job, Vault) as interface-segregated storage
// contracts, so a minimal backend only needs to implement the methods it
// can usefully support (SPEC_FULL.md §3, §4.1-4.2, §4.5-§4.6, §4.10).
package store

import "time"

// Format describes one accepted or produced media type for a complex I/O.
type Format struct {
	MediaType  string `json:"mediaType"`
	Encoding   string `json:"encoding,omitempty"`
	Schema     string `json:"schema,omitempty"`
	MaximumMB  float64 `json:"maximumMegabytes,omitempty"`
	Default    bool   `json:"default,omitempty"`
}

// LiteralDataDomain constrains a literal I/O's native value space.
type LiteralDataDomain struct {
	DataType     string   `json:"dataType"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	UOM          string   `json:"uom,omitempty"`
	AllowedValues []string `json:"allowedValues,omitempty"`
}

// IODescriptor is the canonical, merged description of one Process input
// or output (SPEC_FULL.md §3 "Process I/O Descriptor").
type IODescriptor struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"` // literal|complex|bbox|enum
	MinOccurs   int      `json:"minOccurs"`
	MaxOccurs   int      `json:"maxOccurs"` // -1 means unbounded
	Default     string   `json:"default,omitempty"`
	Formats     []Format `json:"formats,omitempty"`
	LiteralDataDomains []LiteralDataDomain `json:"literalDataDomains,omitempty"`
	AllowedValues []string `json:"allowedValues,omitempty"`
	SchemaRef   string   `json:"schemaRef,omitempty"`
}

// MetadataLink is a documentation/role link or key-value pair attached to
// a Process.
type MetadataLink struct {
	Role  string `json:"role,omitempty"`
	Href  string `json:"href,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// ProcessType enumerates the kinds of execution unit a Process owns.
type ProcessType string

const (
	ProcessTypeApplication ProcessType = "application"
	ProcessTypeWorkflow    ProcessType = "workflow"
	ProcessTypeBuiltin     ProcessType = "builtin"
	ProcessTypeWPS1        ProcessType = "wps-1"
	ProcessTypeOGCAPI      ProcessType = "ogc-api"
	ProcessTypeESGFCWT     ProcessType = "esgf-cwt"
)

// Visibility controls whether a Process is advertised in process listings.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Process is a deployed application package plus its canonical I/O model
// (SPEC_FULL.md §3 "Process").
type Process struct {
	ID                 string         `json:"id"`
	Version            string         `json:"version"`
	RevisionID         string         `json:"revision_id"`
	Title              string         `json:"title,omitempty"`
	Description        string         `json:"description,omitempty"`
	Keywords           []string       `json:"keywords,omitempty"`
	Metadata           []MetadataLink `json:"metadata,omitempty"`
	Inputs             []IODescriptor `json:"inputs"`
	Outputs            []IODescriptor `json:"outputs"`
	JobControlOptions  []string       `json:"jobControlOptions"`
	OutputTransmission []string       `json:"outputTransmission"`
	Visibility         Visibility     `json:"visibility"`
	Type               ProcessType    `json:"type"`
	ExecutionUnit      ExecutionUnit  `json:"executionUnit"`
	Deprecated         bool           `json:"deprecated,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ExecutionUnit records where a Process's application package came from,
// in the precedence order of SPEC_FULL.md §4.5 step 1.
type ExecutionUnit struct {
	InlineCWL  string `json:"inline_cwl,omitempty"`
	CWLURL     string `json:"cwl_url,omitempty"`
	OGCAPIURL  string `json:"ogcapi_url,omitempty"`
	WPSURL     string `json:"wps_url,omitempty"`
}

// ProviderType distinguishes a remote Provider's native protocol.
type ProviderType string

const (
	ProviderTypeWPS    ProviderType = "wps"
	ProviderTypeOGCAPI ProviderType = "ogc-api"
)

// Provider is a registered remote process source (SPEC_FULL.md §3
// "Provider"). Its child processes are never persisted; they are derived
// on demand by the Provider Registry.
type Provider struct {
	ID          string       `json:"id"`
	BaseURL     string       `json:"base_url"`
	Title       string       `json:"title,omitempty"`
	CredsRef    string       `json:"credentials_ref,omitempty"`
	Public      bool         `json:"public"`
	Type        ProviderType `json:"type"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// JobStatus is a Job's position in the state machine (SPEC_FULL.md §4.6).
type JobStatus string

const (
	JobAccepted   JobStatus = "accepted"
	JobStarted    JobStatus = "started"
	JobRunning    JobStatus = "running"
	JobSuccessful JobStatus = "successful"
	JobFailed     JobStatus = "failed"
	JobDismissed  JobStatus = "dismissed"
)

// Terminal reports whether status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobDismissed:
		return true
	default:
		return false
	}
}

// ExecutionMode is the client's requested sync/async preference.
type ExecutionMode string

const (
	ExecutionSync  ExecutionMode = "sync"
	ExecutionAsync ExecutionMode = "async"
	ExecutionAuto  ExecutionMode = "auto"
)

// JobType distinguishes local process jobs from provider-delegated or
// nested workflow jobs.
type JobType string

const (
	JobTypeProcess  JobType = "process"
	JobTypeProvider JobType = "provider"
	JobTypeWorkflow JobType = "workflow"
)

// LogEntry is one append-only Job log line (SPEC_FULL.md §4.6 "Logs").
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Statistics are captured once at Job termination.
type Statistics struct {
	Duration       time.Duration    `json:"duration"`
	StepDurations  map[string]time.Duration `json:"step_durations,omitempty"`
	PeakMemoryMB   int64            `json:"peak_memory_mb,omitempty"`
	OutputBytes    int64            `json:"output_bytes"`
}

// Subscriber is a status-change notification target.
type Subscriber struct {
	Status   JobStatus `json:"status"`
	Email    string    `json:"email,omitempty"`
	Callback string    `json:"callback,omitempty"`
}

// Job is one execution request against a Process or Provider process
// (SPEC_FULL.md §3 "Job").
type Job struct {
	ID              string                 `json:"id"`
	ProcessID       string                 `json:"process_id"`
	ProcessVersion  string                 `json:"process_version,omitempty"`
	ProviderID      string                 `json:"provider_id,omitempty"`
	Status          JobStatus              `json:"status"`
	Type            JobType                `json:"type"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       time.Time              `json:"started_at,omitempty"`
	FinishedAt      time.Time              `json:"finished_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Progress        int                    `json:"progress"`
	Inputs          map[string]any         `json:"inputs,omitempty"`
	OutputsRequest  map[string]OutputSpec  `json:"outputs_request,omitempty"`
	Results         map[string]any         `json:"results,omitempty"`
	Exception       *ExceptionReport       `json:"exception,omitempty"`
	Logs            []LogEntry             `json:"logs,omitempty"`
	Statistics      *Statistics            `json:"statistics,omitempty"`
	Subscribers     []Subscriber           `json:"subscribers,omitempty"`
	AccessToken     string                 `json:"access_token,omitempty"`
	ExecutionMode   ExecutionMode          `json:"execution_mode"`
	OutputContext   string                 `json:"output_context,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	NotificationEmail string               `json:"notification_email,omitempty"`
	CancelRequested bool                   `json:"cancel_requested,omitempty"`
}

// OutputSpec is a per-output transmission override in an execution
// request body.
type OutputSpec struct {
	Transmission string `json:"transmissionMode,omitempty"`
	Format       string `json:"format,omitempty"`
}

// ExceptionReport captures a terminal job failure per SPEC_FULL.md §7.
type ExceptionReport struct {
	Code    string `json:"type"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"status"`
}

// VaultRecord is a one-shot encrypted blob (SPEC_FULL.md §3 "Vault
// Record", §4.2).
type VaultRecord struct {
	ID        string    `json:"id"`
	CipherPath string   `json:"cipher_path"`
	MediaType string    `json:"media_type"`
	Salt      []byte    `json:"-"`
	TokenHash []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// JobFilter narrows ListJobs queries (spec.md implies §6 job search
// supporting process/provider/status/tags/duration bounds).
type JobFilter struct {
	ProcessID   string
	ProviderID  string
	Status      JobStatus
	Tags        []string
	MinDuration time.Duration
	MaxDuration time.Duration
	Limit       int
	Offset      int
}

// ProcessFilter narrows ListProcesses queries.
type ProcessFilter struct {
	Keywords   []string
	Visibility Visibility
	Limit      int
	Offset     int
}
