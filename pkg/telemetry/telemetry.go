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

// Package telemetry defines the wire types exchanged between the SDK
// exporter and the collector. The exporter produces these shapes; the
// collector ingest handlers decode them.
package telemetry

import "encoding/json"

// Envelope is the request body for POST /v1/traces. Each element of
// ResourceSpans is one serialized span record.
type Envelope struct {
	ResourceSpans []json.RawMessage `json:"resourceSpans"`
}

// SpanData is the wire representation of a single span.
//
// Trace and span ids are lowercase hex: 32 characters for trace ids,
// 16 for span ids. Timestamps are RFC 3339 with nanosecond precision.
type SpanData struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`

	StartTime string       `json:"startTime"`
	EndTime   string       `json:"endTime"`
	Duration  Milliseconds `json:"durationMs"`

	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []SpanEvent    `json:"events,omitempty"`
	Links      []SpanLink     `json:"links,omitempty"`
	Status     SpanStatus     `json:"status"`

	Resource map[string]any       `json:"resource,omitempty"`
	Scope    InstrumentationScope `json:"scope"`
}

// SpanEvent is a timestamped annotation attached to a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Time       string         `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanLink references a span in another trace.
type SpanLink struct {
	TraceID    string         `json:"traceId"`
	SpanID     string         `json:"spanId"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanStatus carries the OTel status code and optional description.
// Code values follow the OTel convention: 0 unset, 1 ok, 2 error.
type SpanStatus struct {
	Code    uint32 `json:"code"`
	Message string `json:"message,omitempty"`
}

// InstrumentationScope identifies the library that produced a span.
type InstrumentationScope struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	SchemaURL string `json:"schemaUrl,omitempty"`
}

// ScoreRequest is the request body for POST /v1/score. ResourceID is
// the trace id the score attaches to.
type ScoreRequest struct {
	ResourceID string  `json:"resourceId"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Label      string  `json:"label,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Type       string  `json:"type,omitempty"`
}
