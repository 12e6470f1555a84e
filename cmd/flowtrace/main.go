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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/flowtrace/internal/commands/run"
	"github.com/tombee/flowtrace/internal/commands/runs"
	"github.com/tombee/flowtrace/internal/commands/validate"
	"github.com/tombee/flowtrace/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(log.New(log.FromEnv()))

	rootCmd := &cobra.Command{
		Use:   "flowtrace",
		Short: "Run flows and record execution traces",
		Long: `flowtrace executes YAML flow definitions and records every call,
including lazily streamed model output, as a hierarchical trace tree.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(runs.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
