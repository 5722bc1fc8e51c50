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

// Package config resolves the weaver.* settings named in spec.md §6 into a
// single immutable Settings record, loaded from (low to high precedence)
// built-in defaults, a YAML file, and WEAVER_-prefixed environment
// variables. The record is constructed once at startup and threaded
// explicitly through component constructors — never read from a
// package-level singleton (see SPEC_FULL.md §3 "Settings record").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the deployment role (spec.md §1, weaver.configuration).
type Mode string

const (
	ModeDefault Mode = "DEFAULT"
	ModeEMS     Mode = "EMS"
	ModeADES    Mode = "ADES"
	ModeHybrid  Mode = "HYBRID"
)

// RequestOptionsProfile is a per-URL-prefix HTTP profile consulted by the
// Fetcher and by remote Step Dispatcher runners (spec.md §4.1/§4.10,
// weaver.request_options).
type RequestOptionsProfile struct {
	URLPrefix      string        `yaml:"url"`
	Method         string        `yaml:"method,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	ReadTimeout    time.Duration `yaml:"read_timeout,omitempty"`
	MaxRetries     int           `yaml:"retries,omitempty"`
	VerifySSL      bool          `yaml:"verify_ssl"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// Settings is the fully resolved, immutable configuration record for a
// weaver process (API, worker, or combined).
type Settings struct {
	Configuration Mode `yaml:"configuration"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	WPSOutputDir       string `yaml:"wps_output_dir"`
	WPSOutputURL       string `yaml:"wps_output_url"`
	WPSOutputS3Bucket  string `yaml:"wps_output_s3_bucket"`
	WPSOutputS3Region  string `yaml:"wps_output_s3_region"`
	WPSOutputContext   string `yaml:"wps_output_context"`
	WPSWorkdir         string `yaml:"wps_workdir"`

	CWLEUID int `yaml:"cwl_euid"`
	CWLEGID int `yaml:"cwl_egid"`

	ExecuteSyncMaxWait   time.Duration `yaml:"execute_sync_max_wait"`
	QuotationSyncMaxWait time.Duration `yaml:"quotation_sync_max_wait"`

	WPSMaxRequestSize     int64 `yaml:"wps_max_request_size"`
	WPSMaxSingleInputSize int64 `yaml:"wps_max_single_input_size"`

	RequestOptionsFile string                  `yaml:"request_options"`
	RequestOptions     []RequestOptionsProfile `yaml:"-"`

	CWLProcessesDir           string `yaml:"cwl_processes_dir"`
	CWLProcessesRegisterError bool   `yaml:"cwl_processes_register_error"`

	CWLProv bool `yaml:"cwl_prov"`

	SchemaURL string `yaml:"schema_url"`

	WPSEmailNotifyTimeout time.Duration `yaml:"wps_email_notify_timeout"`

	MetricsAddr string `yaml:"metrics_addr"`
	APIAddr     string `yaml:"api_addr"`

	// FileAllowedRoots bounds the file:// scheme of the Fetcher and the
	// file action's path resolver (spec.md §4.1, §4.12).
	FileAllowedRoots []string `yaml:"file_allowed_roots"`

	// VaultSecret seeds the envelope key derivation for the Vault
	// (spec.md §4.2). Operators must override the default in production.
	VaultSecret string `yaml:"vault_secret"`
	VaultExpiry time.Duration `yaml:"vault_expiry"`
}

// Default returns the built-in defaults, matching the values named in
// spec.md §6 where it specifies them (30MB request size, 3GB single input).
func Default() *Settings {
	return &Settings{
		Configuration: ModeHybrid,

		LogLevel:  "info",
		LogFormat: "json",

		WPSOutputDir:     "/tmp/weaver/output",
		WPSOutputURL:     "http://localhost:4002/outputs",
		WPSOutputContext: "",
		WPSWorkdir:       "/tmp/weaver/workdir",

		ExecuteSyncMaxWait:   20 * time.Second,
		QuotationSyncMaxWait: 30 * time.Second,

		WPSMaxRequestSize:     30 * 1024 * 1024,
		WPSMaxSingleInputSize: 3 * 1024 * 1024 * 1024,

		CWLProcessesRegisterError: false,
		CWLProv:                   true,

		SchemaURL: "https://schemas.opengis.net",

		WPSEmailNotifyTimeout: 10 * time.Second,

		MetricsAddr: ":9102",
		APIAddr:     ":4002",

		FileAllowedRoots: []string{"/tmp/weaver"},

		VaultSecret: "",
		VaultExpiry: 24 * time.Hour,
	}
}

// Load resolves Settings from (in increasing precedence) defaults, the
// YAML file at path (if non-empty and it exists), and WEAVER_-prefixed
// environment variables.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(s)

	if s.RequestOptionsFile != "" {
		profiles, err := loadRequestOptions(s.RequestOptionsFile)
		if err != nil {
			return nil, err
		}
		s.RequestOptions = profiles
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func loadRequestOptions(path string) ([]RequestOptionsProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading request_options %s: %w", path, err)
	}
	var profiles []RequestOptionsProfile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("config: parsing request_options %s: %w", path, err)
	}
	return profiles, nil
}

// applyEnv overlays WEAVER_<FIELD> environment variables onto s. Only the
// scalar settings an operator is likely to override at deploy time are
// covered; structural settings (request options) stay file-only.
func applyEnv(s *Settings) {
	if v := os.Getenv("WEAVER_CONFIGURATION"); v != "" {
		s.Configuration = Mode(strings.ToUpper(v))
	}
	if v := os.Getenv("WEAVER_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("WEAVER_WPS_OUTPUT_DIR"); v != "" {
		s.WPSOutputDir = v
	}
	if v := os.Getenv("WEAVER_WPS_OUTPUT_URL"); v != "" {
		s.WPSOutputURL = v
	}
	if v := os.Getenv("WEAVER_WPS_OUTPUT_S3_BUCKET"); v != "" {
		s.WPSOutputS3Bucket = v
	}
	if v := os.Getenv("WEAVER_WPS_OUTPUT_S3_REGION"); v != "" {
		s.WPSOutputS3Region = v
	}
	if v := os.Getenv("WEAVER_EXECUTE_SYNC_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.ExecuteSyncMaxWait = d
		}
	}
	if v := os.Getenv("WEAVER_VAULT_SECRET"); v != "" {
		s.VaultSecret = v
	}
	if v := os.Getenv("WEAVER_CWL_PROCESSES_DIR"); v != "" {
		s.CWLProcessesDir = v
	}
	if v := os.Getenv("WEAVER_METRICS_ADDR"); v != "" {
		s.MetricsAddr = v
	}
	if v := os.Getenv("WEAVER_API_ADDR"); v != "" {
		s.APIAddr = v
	}
	if v := os.Getenv("WEAVER_WPS_MAX_REQUEST_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.WPSMaxRequestSize = n
		}
	}
}
