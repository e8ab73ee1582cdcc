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

package traces

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/storage"
)

type listFlags struct {
	limit      int
	tenant     string
	errorsOnly bool
	filter     string
}

func newListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent traces",
		Long: `List traces from the local store, newest first. The --filter flag
takes an expression over trace fields:

	beacon traces list --filter 'error_count > 0 && duration_ms > 500'
	beacon traces list --filter 'name startsWith "generate"'

Available fields: trace_id, name, tenant_id, app_id, status,
span_count, error_count, duration_ms.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", 20, "Maximum traces to show")
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "Filter by tenant id")
	cmd.Flags().BoolVar(&flags.errorsOnly, "errors", false, "Only traces with error spans")
	cmd.Flags().StringVar(&flags.filter, "filter", "", "Filter expression over trace fields")

	return cmd
}

// traceEnv is the expression environment for one trace.
func traceEnv(tr storage.TraceSummary) map[string]any {
	return map[string]any{
		"trace_id":    tr.TraceID,
		"name":        tr.Name,
		"tenant_id":   tr.TenantID,
		"app_id":      tr.AppID,
		"status":      tr.StatusCode,
		"span_count":  tr.SpanCount,
		"error_count": tr.ErrorCount,
		"duration_ms": tr.DurationMS,
	}
}

func compileFilter(src string) (*vm.Program, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, shared.NewConfigError(fmt.Sprintf("invalid filter expression %q", src), err)
	}
	return program, nil
}

func runList(cmd *cobra.Command, flags *listFlags) error {
	program, err := compileFilter(flags.filter)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.TraceFilter{
		TenantID:   flags.tenant,
		ErrorsOnly: flags.errorsOnly,
	}
	// Fetch without a limit when filtering so the expression sees
	// every candidate; trim afterwards.
	if program == nil {
		filter.Limit = flags.limit
	}

	traces, err := store.ListTraces(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list traces: %w", err)
	}

	if program != nil {
		kept := traces[:0]
		for _, tr := range traces {
			out, err := expr.Run(program, traceEnv(tr))
			if err != nil {
				return shared.NewConfigError("filter evaluation failed", err)
			}
			if out == true {
				kept = append(kept, tr)
			}
			if flags.limit > 0 && len(kept) >= flags.limit {
				break
			}
		}
		traces = kept
	}

	if shared.GetJSON() {
		type listResult struct {
			shared.JSONResponse
			Traces []storage.TraceSummary `json:"traces"`
		}
		return shared.EmitJSON(listResult{
			JSONResponse: shared.NewJSONResponse("traces list", true),
			Traces:       traces,
		})
	}

	if len(traces) == 0 {
		cmd.Println(shared.Muted.Render("No traces."))
		return nil
	}

	cmd.Println(shared.Header.Render(fmt.Sprintf("%-34s %-24s %-8s %6s %6s %10s",
		"TRACE", "NAME", "STATUS", "SPANS", "ERRS", "DURATION")))
	for _, tr := range traces {
		status := renderStatus(tr.StatusCode, tr.ErrorCount)
		cmd.Printf("%-34s %-24s %-8s %6d %6d %10s\n",
			truncate(tr.TraceID, 34),
			truncate(tr.Name, 24),
			status,
			tr.SpanCount,
			tr.ErrorCount,
			formatDuration(tr.DurationMS),
		)
	}
	return nil
}

func renderStatus(statusCode, errorCount int) string {
	if statusCode == 2 || errorCount > 0 {
		return shared.StatusError.Render("ERROR")
	}
	if statusCode == 1 {
		return shared.StatusOK.Render("OK")
	}
	return shared.Muted.Render("UNSET")
}

func formatDuration(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
