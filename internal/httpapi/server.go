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

// Package httpapi implements the OGC API - Processes REST surface
// (SPEC_FULL.md §4.19, §6): landing page, conformance, process
// deployment/discovery/execution, job status/results/logs/provenance,
// provider registration, and the vault upload endpoint. Every handler is
// a thin translation from net/http onto the execution core's
// components (Store, Deploy Pipeline, Job State Machine, Queue,
// Provider Registry, Vault, Provenance Collector); none of them hold
// business logic of their own.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/weaver/internal/auth"
	"github.com/tombee/weaver/internal/config"
	"github.com/tombee/weaver/internal/deploy"
	"github.com/tombee/weaver/internal/jobrunner"
	"github.com/tombee/weaver/internal/provenance"
	"github.com/tombee/weaver/internal/provider"
	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/vault"
)

// Server wires every collaborator the REST surface needs and owns the
// *http.ServeMux routes are registered against.
type Server struct {
	store      store.Backend
	deploy     *deploy.Pipeline
	providers  *provider.Registry
	vault      *vault.Vault
	prov       *provenance.Collector
	queue      queue.Queue
	waiter     *queue.TerminalWaiter
	pool       *jobrunner.Pool
	authReg    *auth.Registry
	settings   *config.Settings
	logger     *slog.Logger
	startedAt  time.Time
}

// Config wires a Server's collaborators.
type Config struct {
	Store      store.Backend
	Deploy     *deploy.Pipeline
	Providers  *provider.Registry
	Vault      *vault.Vault
	Provenance *provenance.Collector
	Queue      queue.Queue
	Waiter     *queue.TerminalWaiter
	Pool       *jobrunner.Pool
	AuthReg    *auth.Registry
	Settings   *config.Settings
	Logger     *slog.Logger
}

// New returns a Server ready to have RegisterRoutes called against a
// mux.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authReg := cfg.AuthReg
	if authReg == nil {
		authReg = auth.NewRegistry()
	}
	return &Server{
		store:     cfg.Store,
		deploy:    cfg.Deploy,
		providers: cfg.Providers,
		vault:     cfg.Vault,
		prov:      cfg.Provenance,
		queue:     cfg.Queue,
		waiter:    cfg.Waiter,
		pool:      cfg.Pool,
		authReg:   authReg,
		settings:  cfg.Settings,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts every handler group on mux, mirroring the
// one-struct-per-concern pattern used throughout this codebase's
// controller layer.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	(&landingHandler{s: s}).RegisterRoutes(mux)
	(&processesHandler{s: s}).RegisterRoutes(mux)
	(&executionHandler{s: s}).RegisterRoutes(mux)
	(&jobsHandler{s: s}).RegisterRoutes(mux)
	(&providersHandler{s: s}).RegisterRoutes(mux)
	(&vaultHandler{s: s}).RegisterRoutes(mux)
	(&wpsKVPHandler{s: s}).RegisterRoutes(mux)
}
