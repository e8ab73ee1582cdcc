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

// Package mcpserver exposes the local trace store as MCP tools so
// agent tooling can inspect traces over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/storage"
)

// Server wraps the MCP server and provides trace-inspection tools.
type Server struct {
	mcpServer *server.MCPServer
	store     *storage.SQLiteStore
	statusURL string
	version   string
	logger    *slog.Logger
}

// Config configures the MCP server.
type Config struct {
	// Version is the beacon version reported to clients.
	Version string

	// Store is the trace store the tools read from.
	Store *storage.SQLiteStore

	// StatusURL is the running collector's base URL for the
	// collector_status tool. Empty falls back to store totals.
	StatusURL string

	// Logger writes to stderr; stdout carries the MCP protocol.
	Logger *slog.Logger
}

// NewServer creates an MCP server over the trace store.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mcpServer: server.NewMCPServer("beacon", cfg.Version),
		store:     cfg.Store,
		statusURL: cfg.StatusURL,
		version:   cfg.Version,
		logger:    log.WithComponent(cfg.Logger, "mcpserver"),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "traces_list",
		Description: "List recent traces from the local beacon store. Returns trace id, name, status, span counts, and timing.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": map[string]interface{}{
					"type":        "string",
					"description": "Filter by tenant id",
				},
				"errors_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only traces containing at least one error span",
					"default":     false,
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum traces to return (default: 20)",
					"default":     20,
				},
			},
		},
	}, s.handleTracesList)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "traces_get",
		Description: "Fetch every span of one trace, including attributes, events, and status.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"trace_id": map[string]interface{}{
					"type":        "string",
					"description": "The 32-hex trace id",
				},
			},
			Required: []string{"trace_id"},
		},
	}, s.handleTracesGet)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "collector_status",
		Description: "Report collector health: uptime, stored trace/span/score counts, and per-tenant totals.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleCollectorStatus)
}

// Run starts the MCP server using stdio transport. It blocks until
// the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", log.String("version", s.version))
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
