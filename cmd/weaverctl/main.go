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

// Command weaverctl is the operator-facing CLI for weaverd: it
// deploys Processes, submits and monitors Jobs, registers Providers,
// and uploads Vault blobs against a running weaverd instance's REST
// API.
package main

import (
	"fmt"
	"os"

	"github.com/tombee/weaver/internal/cli"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate)

	if err := root.Execute(); err != nil {
		cli.HandleExitError(err)
		os.Exit(1)
	}
}
