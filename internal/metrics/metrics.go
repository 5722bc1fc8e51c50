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

// Package metrics exposes the execution core's Prometheus instrumentation:
// queue depth, job/step durations, retry counts, fetch activity, and Vault
// record counts (SPEC_FULL.md §4.16).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth is the current number of jobs waiting in the task queue,
	// labeled by priority band.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weaver_queue_depth",
			Help: "Number of jobs currently queued for dispatch",
		},
		[]string{"priority"},
	)

	// JobDuration records end-to-end job wall time from accepted to a
	// terminal status, labeled by process ID and outcome.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_job_duration_seconds",
			Help:    "Job execution duration from accepted to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"process_id", "status"},
	)

	// StepDuration records the wall time of a single dispatched step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_step_duration_seconds",
			Help:    "Step dispatch duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"runner", "status"},
	)

	// StepRetries counts retry attempts made by the Step Dispatcher, labeled
	// by runner and the reason the previous attempt was retried.
	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_step_retries_total",
			Help: "Step dispatch retry attempts",
		},
		[]string{"runner", "reason"},
	)

	// FetchDuration records I/O staging fetch latency by scheme.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_fetch_duration_seconds",
			Help:    "Fetcher retrieval duration by scheme",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	// FetchRetries counts Fetcher retry attempts by scheme.
	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_fetch_retries_total",
			Help: "Fetcher retry attempts by scheme",
		},
		[]string{"scheme"},
	)

	// VaultRecords is the current number of records held by the Vault,
	// labeled by consumed state.
	VaultRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weaver_vault_records",
			Help: "Number of Vault records currently stored",
		},
		[]string{"consumed"},
	)
)

// Handler returns the HTTP handler exposing the default registry in the
// Prometheus exposition format, to be mounted at weaver.metrics_addr.
func Handler() http.Handler {
	return promhttp.Handler()
}
