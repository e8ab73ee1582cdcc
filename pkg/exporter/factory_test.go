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
	"bytes"
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

func TestNewSpanExporter_BeaconRequiresSink(t *testing.T) {
	_, err := NewSpanExporter(context.Background(), Config{Mode: ModeBeacon})

	var cfgErr *beaconerrors.ConfigurationError
	if !beaconerrors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewSpanExporter_UnknownMode(t *testing.T) {
	_, err := NewSpanExporter(context.Background(), Config{Mode: "carrier-pigeon"})

	var cfgErr *beaconerrors.ConfigurationError
	if !beaconerrors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewSpanExporter_None(t *testing.T) {
	exp, err := NewSpanExporter(context.Background(), Config{Mode: ModeNone})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	if err := exp.ExportSpans(context.Background(), nil); err != nil {
		t.Errorf("noop export failed: %v", err)
	}
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown failed: %v", err)
	}
}

func TestNewSpanExporter_DefaultsToBeacon(t *testing.T) {
	sink := &fakeSink{}
	exp, err := NewSpanExporter(context.Background(), Config{Sink: sink})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}
	if _, ok := exp.(*Exporter); !ok {
		t.Errorf("expected forwarder exporter, got %T", exp)
	}
}

func TestNewSpanExporter_Console(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewSpanExporter(context.Background(), Config{
		Mode:   ModeConsole,
		Writer: &buf,
	})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "console-span")
	span.End()

	if buf.Len() == 0 {
		t.Error("expected console output")
	}
}

func TestNewSpanExporter_MirrorTees(t *testing.T) {
	sink := &fakeSink{}
	var buf bytes.Buffer

	exp, err := NewSpanExporter(context.Background(), Config{
		Mode:       ModeBeacon,
		Sink:       sink,
		MirrorMode: ModeConsole,
		Writer:     &buf,
	})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "mirrored-span")
	span.End()

	if got := len(sink.spans(t)); got != 1 {
		t.Errorf("expected 1 record in sink, got %d", got)
	}
	if buf.Len() == 0 {
		t.Error("expected mirrored console output")
	}
}
