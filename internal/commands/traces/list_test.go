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
	"errors"
	"testing"

	"github.com/expr-lang/expr"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/storage"
)

func TestCompileFilter(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"empty is nil program", "", false},
		{"boolean expression", `error_count > 0`, false},
		{"string comparison", `tenant_id == "acme"`, false},
		{"combined", `status == 2 && duration_ms > 100`, false},
		{"not boolean", `duration_ms + 1`, true},
		{"syntax error", `error_count >`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program, err := compileFilter(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected compile error")
				}
				var exitErr *shared.ExitError
				if !errors.As(err, &exitErr) {
					t.Errorf("expected ExitError, got %T", err)
				} else if exitErr.Code != shared.ExitConfigError {
					t.Errorf("expected config exit code, got %d", exitErr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("compileFilter(%q) failed: %v", tt.src, err)
			}
			if tt.src == "" && program != nil {
				t.Error("expected nil program for empty filter")
			}
		})
	}
}

func TestFilterMatchesTrace(t *testing.T) {
	tr := storage.TraceSummary{
		TraceID:    "0af7651916cd43dd8448eb211c80319c",
		Name:       "checkout",
		TenantID:   "acme",
		AppID:      "shop",
		StatusCode: 2,
		SpanCount:  4,
		ErrorCount: 1,
		DurationMS: 321.5,
	}

	tests := []struct {
		src   string
		match bool
	}{
		{`error_count > 0`, true},
		{`tenant_id == "acme" && status == 2`, true},
		{`name startsWith "check"`, true},
		{`duration_ms < 100`, false},
		{`app_id == "other"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			program, err := compileFilter(tt.src)
			if err != nil {
				t.Fatalf("compileFilter(%q) failed: %v", tt.src, err)
			}
			out, err := expr.Run(program, traceEnv(tr))
			if err != nil {
				t.Fatalf("expr.Run failed: %v", err)
			}
			if out.(bool) != tt.match {
				t.Errorf("filter %q = %v, want %v", tt.src, out, tt.match)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "-"},
		{-5, "-"},
		{1.4, "1ms"},
		{1500, "1.5s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := truncate("a-rather-long-span-name", 10); got != "a-rathe..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	if len(truncate("abcdef", 3)) != 3 {
		t.Error("expected hard cut at tiny widths")
	}
}

func TestTracesCommandStructure(t *testing.T) {
	cmd := NewTracesCommand()

	if cmd.Use != "traces" {
		t.Errorf("expected use 'traces', got %q", cmd.Use)
	}

	subcommands := map[string]bool{}
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}
	for _, want := range []string{"list", "show", "purge"} {
		if !subcommands[want] {
			t.Errorf("expected %q subcommand", want)
		}
	}
}
