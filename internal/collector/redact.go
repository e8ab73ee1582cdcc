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
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RedactedValue replaces attribute values whose keys match a redaction
// pattern.
const RedactedValue = "[REDACTED]"

// Redactor scrubs span attributes whose dotted keys match any of the
// configured glob patterns. Patterns use doublestar syntax with "."
// as the separator, so "agentmark.metadata.**" covers every key under
// that prefix.
type Redactor struct {
	patterns []string
}

// NewRedactor validates the patterns and returns a redactor. A nil
// redactor is returned for an empty pattern list.
func NewRedactor(patterns []string) (*Redactor, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(toPathPattern(p)) {
			return nil, fmt.Errorf("invalid redaction pattern %q", p)
		}
	}
	return &Redactor{patterns: patterns}, nil
}

// Apply overwrites matching attribute values in place and returns the
// number of redacted keys. Safe to call on a nil redactor.
func (r *Redactor) Apply(attributes map[string]any) int {
	if r == nil || len(attributes) == 0 {
		return 0
	}
	redacted := 0
	for key := range attributes {
		if r.matches(key) {
			attributes[key] = RedactedValue
			redacted++
		}
	}
	return redacted
}

func (r *Redactor) matches(key string) bool {
	path := toPathPattern(key)
	for _, p := range r.patterns {
		if ok, _ := doublestar.Match(toPathPattern(p), path); ok {
			return true
		}
	}
	return false
}

// toPathPattern maps dotted attribute keys onto the slash-separated
// form doublestar matches against.
func toPathPattern(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}
