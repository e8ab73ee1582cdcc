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

package exporter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/beacon/pkg/forwarder"
	"github.com/tombee/beacon/pkg/telemetry"
)

// fakeSink records enqueued spans for inspection.
type fakeSink struct {
	mu      sync.Mutex
	records []forwarder.Record
	stopped bool
}

func (s *fakeSink) Enqueue(rec forwarder.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *fakeSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSink) spans(t *testing.T) []telemetry.SpanData {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]telemetry.SpanData, 0, len(s.records))
	for _, rec := range s.records {
		var sd telemetry.SpanData
		if err := json.Unmarshal(rec, &sd); err != nil {
			t.Fatalf("failed to decode record: %v", err)
		}
		out = append(out, sd)
	}
	return out
}

// newTestProvider wires a tracer provider synchronously into sink.
func newTestProvider(sink *fakeSink) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(New(sink, nil)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "beacon-test"),
		)),
	)
}

func TestExporter_ConvertsRootSpan(t *testing.T) {
	sink := &fakeSink{}
	tp := newTestProvider(sink)
	defer tp.Shutdown(context.Background())

	tracer := tp.Tracer("beacon-test")
	_, span := tracer.Start(context.Background(), "generate",
		trace.WithAttributes(attribute.String("agentmark.trace_name", "run-1")))
	span.AddEvent("prompt rendered", trace.WithAttributes(attribute.Int("tokens", 42)))
	span.SetStatus(codes.Error, "model timeout")
	span.End()

	spans := sink.spans(t)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	sd := spans[0]

	if len(sd.TraceID) != 32 {
		t.Errorf("expected 32-char trace id, got %q", sd.TraceID)
	}
	if len(sd.SpanID) != 16 {
		t.Errorf("expected 16-char span id, got %q", sd.SpanID)
	}
	if sd.ParentSpanID != zeroSpanID {
		t.Errorf("expected zero parent for root span, got %q", sd.ParentSpanID)
	}
	if sd.Name != "generate" {
		t.Errorf("expected name generate, got %q", sd.Name)
	}
	if sd.Kind != "INTERNAL" {
		t.Errorf("expected kind INTERNAL, got %q", sd.Kind)
	}
	if sd.Status.Code != 2 || sd.Status.Message != "model timeout" {
		t.Errorf("unexpected status: %+v", sd.Status)
	}
	if sd.Attributes["agentmark.trace_name"] != "run-1" {
		t.Errorf("missing span attribute, got %v", sd.Attributes)
	}
	if sd.Resource["service.name"] != "beacon-test" {
		t.Errorf("missing resource attribute, got %v", sd.Resource)
	}
	if len(sd.Events) != 1 || sd.Events[0].Name != "prompt rendered" {
		t.Errorf("unexpected events: %+v", sd.Events)
	}

	if _, err := time.Parse(time.RFC3339Nano, sd.StartTime); err != nil {
		t.Errorf("start time not RFC 3339 Nano: %q", sd.StartTime)
	}
	if sd.Duration < 0 {
		t.Errorf("negative duration: %v", sd.Duration)
	}
}

func TestExporter_ChildSpanCarriesParent(t *testing.T) {
	sink := &fakeSink{}
	tp := newTestProvider(sink)
	defer tp.Shutdown(context.Background())

	tracer := tp.Tracer("beacon-test")
	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child")
	child.End()
	parent.End()

	spans := sink.spans(t)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	// Child ends first, so it is the first record.
	childData, parentData := spans[0], spans[1]
	if childData.ParentSpanID != parentData.SpanID {
		t.Errorf("expected child parent %q, got %q", parentData.SpanID, childData.ParentSpanID)
	}
	if childData.TraceID != parentData.TraceID {
		t.Errorf("expected same trace id, got %q and %q", childData.TraceID, parentData.TraceID)
	}
}

func TestExporter_ShutdownStopsSink(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !sink.stopped {
		t.Error("expected sink to be stopped")
	}
}
