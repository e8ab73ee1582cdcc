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

// Package status queries a running collector's status endpoint.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/pkg/httpclient"
)

// collectorStatus mirrors the /v1/status response.
type collectorStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Keys          int    `json:"keys"`
	Totals        struct {
		Traces int64 `json:"traces"`
		Spans  int64 `json:"spans"`
		Scores int64 `json:"scores"`
	} `json:"totals"`
	PerTenant map[string]int64 `json:"per_tenant"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running collector's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Collector address (default: the configured listen address)")

	return cmd
}

func runStatus(cmd *cobra.Command, addr string) error {
	if addr == "" {
		cfg, err := config.Load(shared.GetConfigPath())
		if err != nil {
			return shared.NewConfigError("failed to load config", err)
		}
		addr = cfg.Collector.Listen
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:   5 * time.Second,
		UserAgent: "beacon-cli",
	})
	if err != nil {
		return err
	}

	url := "http://" + addr + "/v1/status"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return shared.NewConnectionError(fmt.Sprintf("collector unreachable at %s", addr), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return shared.NewConnectionError(fmt.Sprintf("collector returned HTTP %d", resp.StatusCode), nil)
	}

	var status collectorStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("malformed status response: %w", err)
	}

	if shared.GetJSON() {
		type statusResult struct {
			shared.JSONResponse
			Collector collectorStatus `json:"collector"`
		}
		return shared.EmitJSON(statusResult{
			JSONResponse: shared.NewJSONResponse("status", true),
			Collector:    status,
		})
	}

	// Large counts read better with separators: 1,234,567
	p := message.NewPrinter(language.English)

	cmd.Println(shared.RenderStatus(status.Status == "ok", "OK") + " collector at " + addr)
	cmd.Printf("  %s %s\n", shared.RenderLabel("uptime:"), formatUptime(status.UptimeSeconds))
	cmd.Printf("  %s %s\n", shared.RenderLabel("traces:"), p.Sprintf("%d", status.Totals.Traces))
	cmd.Printf("  %s %s\n", shared.RenderLabel("spans:"), p.Sprintf("%d", status.Totals.Spans))
	cmd.Printf("  %s %s\n", shared.RenderLabel("scores:"), p.Sprintf("%d", status.Totals.Scores))
	cmd.Printf("  %s %d\n", shared.RenderLabel("keys:"), status.Keys)

	if len(status.PerTenant) > 0 {
		cmd.Println(shared.Header.Render("  per tenant"))
		tenants := make([]string, 0, len(status.PerTenant))
		for tenant := range status.PerTenant {
			tenants = append(tenants, tenant)
		}
		sort.Strings(tenants)
		for _, tenant := range tenants {
			cmd.Printf("    %-24s %s\n", tenant, p.Sprintf("%d spans", status.PerTenant[tenant]))
		}
	}
	return nil
}

func formatUptime(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}
