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

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/beacon/internal/storage"
)

const toolTimeout = 10 * time.Second

// traceListItem is the traces_list result row.
type traceListItem struct {
	TraceID    string  `json:"traceId"`
	Name       string  `json:"name"`
	TenantID   string  `json:"tenantId,omitempty"`
	StartTime  string  `json:"startTime"`
	DurationMS float64 `json:"durationMs"`
	StatusCode int     `json:"statusCode"`
	SpanCount  int     `json:"spanCount"`
	ErrorCount int     `json:"errorCount"`
}

func (s *Server) handleTracesList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	filter := storage.TraceFilter{
		TenantID:   request.GetString("tenant_id", ""),
		ErrorsOnly: request.GetBool("errors_only", false),
		Limit:      request.GetInt("limit", 20),
	}

	traces, err := s.store.ListTraces(ctx, filter)
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to list traces: %v", err)), nil
	}

	items := make([]traceListItem, 0, len(traces))
	for _, tr := range traces {
		items = append(items, traceListItem{
			TraceID:    tr.TraceID,
			Name:       tr.Name,
			TenantID:   tr.TenantID,
			StartTime:  tr.StartTime.UTC().Format(time.RFC3339Nano),
			DurationMS: tr.DurationMS,
			StatusCode: tr.StatusCode,
			SpanCount:  tr.SpanCount,
			ErrorCount: tr.ErrorCount,
		})
	}

	return jsonResponse(map[string]any{"traces": items, "count": len(items)})
}

func (s *Server) handleTracesGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID, err := request.RequireString("trace_id")
	if err != nil {
		return errorResponse("Missing or invalid 'trace_id' argument"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	spans, err := s.store.GetTraceSpans(ctx, traceID)
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to load trace: %v", err)), nil
	}
	if len(spans) == 0 {
		return errorResponse(fmt.Sprintf("Trace not found: %s", traceID)), nil
	}

	return jsonResponse(map[string]any{"traceId": traceID, "spans": spans})
}

func (s *Server) handleCollectorStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	// Prefer the live collector; it knows uptime and key counts.
	if s.statusURL != "" {
		if result := s.fetchStatus(ctx); result != nil {
			return result, nil
		}
	}

	totals, err := s.store.GetTotals(ctx)
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to read store totals: %v", err)), nil
	}
	return jsonResponse(map[string]any{
		"status": "store-only",
		"totals": map[string]any{
			"traces": totals.Traces,
			"spans":  totals.Spans,
			"scores": totals.Scores,
		},
		"per_tenant": totals.PerTenant,
	})
}

// fetchStatus queries the running collector. Nil means the collector
// is unreachable and the caller should fall back to the store.
func (s *Server) fetchStatus(ctx context.Context) *mcp.CallToolResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL+"/v1/status", nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	return textResponse(string(body))
}

func jsonResponse(body any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return textResponse(string(encoded)), nil
}
