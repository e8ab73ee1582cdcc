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

package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedactor_EmptyPatterns(t *testing.T) {
	r, err := NewRedactor(nil)
	require.NoError(t, err)
	assert.Nil(t, r)
	// Nil redactor is a no-op
	attrs := map[string]any{"a": 1}
	assert.Zero(t, r.Apply(attrs))
	assert.Equal(t, 1, attrs["a"])
}

func TestNewRedactor_InvalidPattern(t *testing.T) {
	_, err := NewRedactor([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestRedactor_Apply(t *testing.T) {
	r, err := NewRedactor([]string{"agentmark.metadata.**", "*.password"})
	require.NoError(t, err)

	attrs := map[string]any{
		"agentmark.metadata.user":       "alice",
		"agentmark.metadata.session.id": "abc",
		"db.password":                   "hunter2",
		"model":                         "gpt-4o",
		"agentmark.prompt":              "hello",
	}

	redacted := r.Apply(attrs)
	assert.Equal(t, 3, redacted)
	assert.Equal(t, RedactedValue, attrs["agentmark.metadata.user"])
	assert.Equal(t, RedactedValue, attrs["agentmark.metadata.session.id"])
	assert.Equal(t, RedactedValue, attrs["db.password"])
	assert.Equal(t, "gpt-4o", attrs["model"])
	assert.Equal(t, "hello", attrs["agentmark.prompt"])
}
