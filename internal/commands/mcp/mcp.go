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

// Package mcp exposes stored traces to MCP clients over stdio.
package mcp

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	intlog "github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/mcpserver"
	"github.com/tombee/beacon/internal/storage"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP server over stdio for trace queries",
		Long: `Run a Model Context Protocol server over stdio.

Exposes traces_list, traces_get and collector_status tools so MCP
clients can inspect captured traces. Point your MCP client at:

  beacon mcp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the trace database (default: the configured path)")

	return cmd
}

func runMCP(cmd *cobra.Command, dbPath string) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("failed to load config", err)
	}
	if dbPath == "" {
		dbPath = cfg.Storage.Path
	}

	// Stdout carries the MCP protocol, so logs must go to stderr.
	logCfg := intlog.FromEnv()
	logCfg.Format = intlog.FormatJSON
	logger := intlog.New(logCfg)
	slog.SetDefault(logger)

	store, err := storage.New(storage.Config{Path: dbPath, EnableEncryption: true})
	if err != nil {
		return shared.NewConfigError("failed to open trace database", err)
	}
	defer store.Close()

	version, _, _ := shared.GetVersion()
	srv, err := mcpserver.NewServer(mcpserver.Config{
		Version:   version,
		Store:     store,
		StatusURL: "http://" + cfg.Collector.Listen,
		Logger:    logger.With(intlog.String("component", "mcp")),
	})
	if err != nil {
		return err
	}

	return srv.Run(cmd.Context())
}
