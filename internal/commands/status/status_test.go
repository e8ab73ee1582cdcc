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

package status

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tombee/beacon/internal/commands/shared"
)

func TestStatusCommand(t *testing.T) {
	cmd := NewStatusCommand()

	if cmd.Use != "status" {
		t.Errorf("expected use 'status', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("addr") == nil {
		t.Error("addr flag not registered")
	}
}

func TestStatusOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"uptime_seconds": 90,
			"keys": 2,
			"totals": {"traces": 1234567, "spans": 42, "scores": 3},
			"per_tenant": {"acme": 40, "globex": 2}
		}`))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")

	cmd := NewStatusCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--addr", addr})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	output := buf.String()
	// Large counts carry thousands separators
	if !strings.Contains(output, "1,234,567") {
		t.Errorf("expected formatted trace count, got: %s", output)
	}
	if !strings.Contains(output, "1m30s") {
		t.Errorf("expected uptime rendering, got: %s", output)
	}
	if !strings.Contains(output, "acme") {
		t.Errorf("expected per-tenant section, got: %s", output)
	}
}

func TestStatusUnreachable(t *testing.T) {
	cmd := NewStatusCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--addr", "127.0.0.1:1"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for unreachable collector")
	}

	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != shared.ExitConnectionError {
		t.Errorf("expected connection exit code, got %d", exitErr.Code)
	}
}
