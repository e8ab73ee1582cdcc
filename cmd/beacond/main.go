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
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/beacon/internal/collector"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/storage"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to config file")
		listenAddr  = flag.String("listen", "", "Address to listen on")
		dbPath      = flag.String("db", "", "Path to the trace database")
		keysFile    = flag.String("keys", "", "Path to the API keys file")
		retention   = flag.Duration("retention", 0, "How long to keep traces (0: use configured value)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("beacond %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *listenAddr != "" {
		cfg.Collector.Listen = *listenAddr
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *keysFile != "" {
		cfg.Collector.KeysFile = *keysFile
	}
	if *retention > 0 {
		cfg.Storage.Retention = *retention
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Open durable span storage
	store, err := storage.New(storage.Config{
		Path:             cfg.Storage.Path,
		EnableEncryption: true,
	})
	if err != nil {
		logger.Error("Failed to open trace database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	srv, err := collector.New(cfg.Collector, cfg.Storage, store, logger)
	if err != nil {
		logger.Error("Failed to create collector", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting beacond",
		log.String("version", version),
		log.String("listen", cfg.Collector.Listen),
		slog.Duration("retention", cfg.Storage.Retention))

	start := time.Now()
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Collector error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete", slog.Duration("uptime", time.Since(start).Round(time.Second)))
}
