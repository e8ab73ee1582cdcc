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

// Package exporter bridges the OpenTelemetry SDK to the beacon
// forwarder and to standard OTLP/console exporters.
package exporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/beacon/pkg/forwarder"
	"github.com/tombee/beacon/pkg/telemetry"
)

// zeroSpanID marks a root span's parent on the wire.
const zeroSpanID = "0000000000000000"

// Sink receives serialized span records. *forwarder.Forwarder is the
// production implementation.
type Sink interface {
	Enqueue(rec forwarder.Record)
	Stop(ctx context.Context) error
}

// Exporter converts OpenTelemetry spans to wire records and enqueues
// them into a Sink. ExportSpans never performs network I/O; delivery
// is the forwarder's job.
type Exporter struct {
	sink   Sink
	logger *slog.Logger
}

// New creates an exporter feeding the given sink.
func New(sink Sink, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{sink: sink, logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter. A span that fails to
// serialize is skipped so one bad span cannot block the batch.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sd := convertSpan(span)
		data, err := json.Marshal(sd)
		if err != nil {
			e.logger.Warn("failed to serialize span, skipping",
				"span_name", sd.Name, "error", err)
			continue
		}
		e.sink.Enqueue(data)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter by stopping the sink,
// which performs a final best-effort flush.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.sink.Stop(ctx)
}

// convertSpan maps a ReadOnlySpan to the wire representation.
func convertSpan(span sdktrace.ReadOnlySpan) telemetry.SpanData {
	sc := span.SpanContext()

	parent := zeroSpanID
	if p := span.Parent(); p.HasSpanID() {
		parent = p.SpanID().String()
	}

	scope := span.InstrumentationScope()

	sd := telemetry.SpanData{
		TraceID:      sc.TraceID().String(),
		SpanID:       sc.SpanID().String(),
		ParentSpanID: parent,
		Name:         span.Name(),
		Kind:         strings.ToUpper(span.SpanKind().String()),
		StartTime:    span.StartTime().Format(time.RFC3339Nano),
		EndTime:      span.EndTime().Format(time.RFC3339Nano),
		Duration:     telemetry.DurationMilliseconds(span.EndTime().Sub(span.StartTime())),
		Attributes:   attributesToMap(span.Attributes()),
		Status: telemetry.SpanStatus{
			Code:    uint32(span.Status().Code),
			Message: span.Status().Description,
		},
		Resource: attributesToMap(span.Resource().Attributes()),
		Scope: telemetry.InstrumentationScope{
			Name:      scope.Name,
			Version:   scope.Version,
			SchemaURL: scope.SchemaURL,
		},
	}

	for _, ev := range span.Events() {
		sd.Events = append(sd.Events, telemetry.SpanEvent{
			Name:       ev.Name,
			Time:       ev.Time.Format(time.RFC3339Nano),
			Attributes: attributesToMap(ev.Attributes),
		})
	}

	for _, link := range span.Links() {
		sd.Links = append(sd.Links, telemetry.SpanLink{
			TraceID:    link.SpanContext.TraceID().String(),
			SpanID:     link.SpanContext.SpanID().String(),
			Attributes: attributesToMap(link.Attributes),
		})
	}

	return sd
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.AsInterface()
	}
	return m
}
