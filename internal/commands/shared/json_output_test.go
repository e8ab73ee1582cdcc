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

package shared

import (
	"encoding/json"
	"testing"
)

// TestJSONResponseEnvelope verifies the base envelope structure
func TestJSONResponseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		command string
		success bool
	}{
		{
			name:    "successful response",
			command: "status",
			success: true,
		},
		{
			name:    "failed response",
			command: "traces list",
			success: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewJSONResponse(tt.command, tt.success)

			data, err := json.Marshal(resp)
			if err != nil {
				t.Fatalf("failed to marshal JSONResponse: %v", err)
			}

			var decoded JSONResponse
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("failed to unmarshal JSONResponse: %v", err)
			}

			if decoded.Version != "1" {
				t.Errorf("version = %q, want %q", decoded.Version, "1")
			}
			if decoded.Command != tt.command {
				t.Errorf("command = %q, want %q", decoded.Command, tt.command)
			}
			if decoded.Success != tt.success {
				t.Errorf("success = %v, want %v", decoded.Success, tt.success)
			}

			// The envelope version is serialized as @version
			var raw map[string]interface{}
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("failed to unmarshal to map: %v", err)
			}
			if _, ok := raw["@version"]; !ok {
				t.Error("@version field not present in JSON output")
			}
		})
	}
}

// TestJSONErrorStructure verifies error envelope structure
func TestJSONErrorStructure(t *testing.T) {
	errs := []JSONError{
		{
			Code:       "E001",
			Message:    "trace not found",
			Suggestion: "Run 'beacon traces list' to see captured trace IDs",
		},
		{
			Code:    "E002",
			Message: "collector unreachable",
		},
	}

	data, err := json.Marshal(errs)
	if err != nil {
		t.Fatalf("failed to marshal errors: %v", err)
	}

	var decoded []JSONError
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal errors: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(decoded))
	}
	if decoded[0].Suggestion == "" {
		t.Error("expected first error to keep its suggestion")
	}

	// suggestion is omitempty: absent when not set
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal to maps: %v", err)
	}
	if _, ok := raw[1]["suggestion"]; ok {
		t.Error("empty suggestion should be omitted from JSON")
	}
}
