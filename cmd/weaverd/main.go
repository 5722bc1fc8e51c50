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

// Command weaverd runs the weaver execution core as a single daemon
// process: the OGC API - Processes REST surface, the Job Worker Pool,
// and every collaborator they share (Store, Fetcher, Vault, Provider
// Registry, Deploy Pipeline, Step Dispatcher).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tombee/weaver/internal/auth"
	"github.com/tombee/weaver/internal/builtins"
	"github.com/tombee/weaver/internal/config"
	"github.com/tombee/weaver/internal/deploy"
	"github.com/tombee/weaver/internal/dispatch"
	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/httpapi"
	"github.com/tombee/weaver/internal/jobrunner"
	"github.com/tombee/weaver/internal/log"
	"github.com/tombee/weaver/internal/metrics"
	"github.com/tombee/weaver/internal/provenance"
	"github.com/tombee/weaver/internal/provider"
	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/staging"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
	"github.com/tombee/weaver/internal/store/sqlite"
	"github.com/tombee/weaver/internal/vault"
	"github.com/tombee/weaver/pkg/process"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the weaver YAML configuration file")
		backendType = flag.String("backend", "memory", "Storage backend (memory, sqlite)")
		sqlitePath  = flag.String("sqlite-path", "", "SQLite database file (required when -backend=sqlite)")
		apiAddr     = flag.String("api-addr", "", "Override weaver.api_addr")
		metricsAddr = flag.String("metrics-addr", "", "Override weaver.metrics_addr")
		cwlRunner   = flag.String("cwl-runner", "cwltool", "Binary used to execute local CommandLineTool/ExpressionTool/Workflow documents")
		maxParallel = flag.Int("max-parallel", 10, "Maximum number of Jobs executed concurrently")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("weaverd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *apiAddr != "" {
		settings.APIAddr = *apiAddr
	}
	if *metricsAddr != "" {
		settings.MetricsAddr = *metricsAddr
	}

	backend, err := openBackend(*backendType, *sqlitePath)
	if err != nil {
		logger.Error("failed to open store backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	var s3Client *s3.Client
	if settings.WPSOutputS3Bucket != "" {
		if awsCfg, err := awsconfig.LoadDefaultConfig(context.Background()); err != nil {
			logger.Warn("failed to load AWS config, s3:// output destination disabled", "error", err)
		} else {
			s3Client = s3.NewFromConfig(awsCfg)
		}
	}

	vlt, err := vault.New(vault.Config{
		Secret:     []byte(settings.VaultSecret),
		BlobDir:    filepath.Join(settings.WPSWorkdir, "vault"),
		DefaultTTL: settings.VaultExpiry,
		Store:      backend,
	})
	if err != nil {
		logger.Error("failed to construct vault", "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(fetch.Config{
		AllowedRoots: settings.FileAllowedRoots,
		WPSOutputURL: settings.WPSOutputURL,
		Vault:        vlt,
		S3Client:     s3Client,
		Logger:       logger,
	})

	authReg := auth.NewRegistry()

	providers, err := provider.New(provider.Config{Store: backend, Logger: logger})
	if err != nil {
		logger.Error("failed to construct provider registry", "error", err)
		os.Exit(1)
	}

	builtinRegistry := builtins.New(builtins.Config{Fetcher: fetcher})

	deployPipeline := deploy.New(deploy.Config{
		Store:   backend,
		Lister:  backend,
		Jobs:    backend,
		Fetcher: fetcher,
		Merger:  process.NewMerger(),
		Logger:  logger,
	})

	stager := staging.New(fetcher)

	var uploader staging.Uploader
	if s3Client != nil {
		uploader = staging.NewS3Uploader(s3Client)
	}

	executor := dispatch.NewJobExecutor(dispatch.JobExecutorConfig{
		Processes:   backend,
		Providers:   providers,
		Fetcher:     fetcher,
		Stager:      stager,
		Auth:        authReg,
		Local:       dispatch.NewLocalCWLRunner(*cwlRunner),
		Builtin:     dispatch.NewBuiltinRunner(builtinRegistry),
		Retry:       dispatch.DefaultRetryPolicy(),
		WorkDirRoot: settings.WPSWorkdir,
		Destination: staging.DestinationConfig{
			WPSOutputDir: settings.WPSOutputDir,
			S3Bucket:     settings.WPSOutputS3Bucket,
			S3Region:     settings.WPSOutputS3Region,
		},
		Uploader: uploader,
	})

	q := queue.NewMemoryQueue()
	waiter := queue.NewTerminalWaiter()

	pool := jobrunner.New(jobrunner.Config{
		Queue:       q,
		JobStore:    backend,
		Executor:    executor,
		Waiter:      waiter,
		MaxParallel: *maxParallel,
		Logger:      logger,
	})

	prov := provenance.NewCollector(settings.CWLProv)

	server := httpapi.New(httpapi.Config{
		Store:      backend,
		Deploy:     deployPipeline,
		Providers:  providers,
		Vault:      vlt,
		Provenance: prov,
		Queue:      q,
		Waiter:     waiter,
		Pool:       pool,
		AuthReg:    authReg,
		Settings:   settings,
		Logger:     logger,
	})

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	apiServer := &http.Server{Addr: settings.APIAddr, Handler: mux}
	metricsServer := &http.Server{Addr: settings.MetricsAddr, Handler: metrics.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pool.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server listening", "addr", settings.APIAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", "addr", settings.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		logger.Error("server error, shutting down", "error", err)
		stop()
	}

	pool.StartDraining()
	if !pool.WaitForDrain(30 * time.Second) {
		logger.Warn("drain timed out with jobs still active")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
}

// openBackend constructs the configured store.Backend.
func openBackend(kind, sqlitePath string) (store.Backend, error) {
	switch kind {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		if sqlitePath == "" {
			return nil, fmt.Errorf("-sqlite-path is required when -backend=sqlite")
		}
		return sqlite.Open(sqlite.Config{Path: sqlitePath})
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
