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

// Package dev implements the foreground development collector
// command.
package dev

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/collector"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/storage"
)

type devFlags struct {
	listen    string
	dbPath    string
	keysFile  string
	retention time.Duration
	rps       float64
	burst     int
	redact    []string
	noLimit   bool
}

// NewDevCommand creates the dev command, which runs the collector in
// the foreground until interrupted.
func NewDevCommand() *cobra.Command {
	flags := &devFlags{}

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the local development collector",
		Long: `Run the beacon collector in the foreground. It accepts signed trace
batches on /v1/traces, stores them in the local SQLite database, and
serves /v1/status and /metrics for inspection.

Point an SDK at it with:

	sdk.WithBaseURL("http://127.0.0.1:4117")`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", "", "Address to listen on (default: 127.0.0.1:4117)")
	cmd.Flags().StringVar(&flags.dbPath, "db", "", "SQLite database path (default: ~/.beacon/beacon.db)")
	cmd.Flags().StringVar(&flags.keysFile, "keys", "", "Signing-key table path (default: ~/.beacon/keys.yaml)")
	cmd.Flags().DurationVar(&flags.retention, "retention", 0, "Trace retention window (default: 168h)")
	cmd.Flags().Float64Var(&flags.rps, "rps", 0, "Per-tenant ingest rate limit")
	cmd.Flags().IntVar(&flags.burst, "burst", 0, "Per-tenant burst allowance")
	cmd.Flags().StringSliceVar(&flags.redact, "redact", nil, "Attribute key patterns to redact before storage")
	cmd.Flags().BoolVar(&flags.noLimit, "no-rate-limit", false, "Disable per-tenant rate limiting")

	return cmd
}

func runDev(cmd *cobra.Command, flags *devFlags) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("failed to load config", err)
	}

	if flags.listen != "" {
		cfg.Collector.Listen = flags.listen
	}
	if flags.dbPath != "" {
		cfg.Storage.Path = flags.dbPath
	}
	if flags.keysFile != "" {
		cfg.Collector.KeysFile = flags.keysFile
	}
	if flags.retention > 0 {
		cfg.Storage.Retention = flags.retention
	}
	if flags.rps > 0 {
		cfg.Collector.RateLimit.PerTenantRPS = flags.rps
	}
	if flags.burst > 0 {
		cfg.Collector.RateLimit.Burst = flags.burst
	}
	if len(flags.redact) > 0 {
		cfg.Collector.Redact = flags.redact
	}
	if flags.noLimit {
		disabled := false
		cfg.Collector.RateLimit.Enabled = &disabled
	}
	if err := cfg.Validate(); err != nil {
		return shared.NewConfigError("invalid configuration", err)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	store, err := storage.New(storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return shared.NewConfigError("failed to open trace store", err)
	}
	defer store.Close()

	srv, err := collector.New(cfg.Collector, cfg.Storage, store, logger)
	if err != nil {
		return shared.NewConfigError("failed to build collector", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !shared.GetQuiet() {
		cmd.Printf("%s collector listening on %s\n", shared.RenderOK("beacon dev"), cfg.Collector.Listen)
		cmd.Printf("  store: %s\n", cfg.Storage.Path)
		cmd.Printf("  keys:  %s\n", cfg.Collector.KeysFile)
	}

	if err := srv.Run(ctx); err != nil {
		return shared.NewConnectionError("collector failed", err)
	}
	return nil
}
