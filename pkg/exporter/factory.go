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
	"io"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Mode selects the span export backend.
type Mode string

const (
	// ModeBeacon delivers spans through the forwarder pipeline.
	ModeBeacon Mode = "beacon"
	// ModeOTLP exports over OTLP gRPC.
	ModeOTLP Mode = "otlp"
	// ModeOTLPHTTP exports over OTLP HTTP.
	ModeOTLPHTTP Mode = "otlp_http"
	// ModeConsole prints spans to a writer for development.
	ModeConsole Mode = "console"
	// ModeNone discards all spans.
	ModeNone Mode = "none"
)

// Config selects and configures a span exporter.
type Config struct {
	Mode Mode

	// Sink feeds ModeBeacon. Required for that mode.
	Sink Sink

	// Endpoint, Insecure, CACertPath and Headers configure the OTLP
	// modes.
	Endpoint   string
	Insecure   bool
	CACertPath string
	Headers    map[string]string

	// Writer and PrettyPrint configure ModeConsole.
	Writer      io.Writer
	PrettyPrint bool

	// MirrorMode optionally tees every batch to a second exporter
	// built from the same config with this mode.
	MirrorMode Mode

	Logger *slog.Logger
}

// NewSpanExporter builds an exporter for the configured mode.
func NewSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	primary, err := newForMode(ctx, cfg, cfg.Mode)
	if err != nil {
		return nil, err
	}

	if cfg.MirrorMode == "" || cfg.MirrorMode == ModeNone {
		return primary, nil
	}

	secondary, err := newForMode(ctx, cfg, cfg.MirrorMode)
	if err != nil {
		primary.Shutdown(ctx)
		return nil, beaconerrors.Wrap(err, "failed to build mirror exporter")
	}

	return &mirrorExporter{primary: primary, secondary: secondary}, nil
}

func newForMode(ctx context.Context, cfg Config, mode Mode) (sdktrace.SpanExporter, error) {
	switch mode {
	case ModeBeacon, "":
		if cfg.Sink == nil {
			return nil, &beaconerrors.ConfigurationError{
				Field:  "sink",
				Reason: "beacon export mode requires a forwarder sink",
			}
		}
		return New(cfg.Sink, cfg.Logger), nil

	case ModeOTLP:
		tlsCfg, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		return newOTLPExporter(ctx, OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsCfg,
			Headers:   cfg.Headers,
		})

	case ModeOTLPHTTP:
		tlsCfg, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		return newOTLPHTTPExporter(ctx, OTLPHTTPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsCfg,
			Headers:   cfg.Headers,
		})

	case ModeConsole:
		return newConsoleExporter(ConsoleConfig{
			Writer:      cfg.Writer,
			PrettyPrint: cfg.PrettyPrint,
		})

	case ModeNone:
		return noopExporter{}, nil

	default:
		return nil, &beaconerrors.ConfigurationError{
			Field:  "mode",
			Reason: "unknown export mode: " + string(mode),
		}
	}
}

// noopExporter discards all spans.
type noopExporter struct{}

func (noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopExporter) Shutdown(ctx context.Context) error {
	return nil
}

// mirrorExporter tees every batch to two exporters. The primary's
// error wins when both fail.
type mirrorExporter struct {
	primary   sdktrace.SpanExporter
	secondary sdktrace.SpanExporter
}

func (m *mirrorExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	primaryErr := m.primary.ExportSpans(ctx, spans)
	if err := m.secondary.ExportSpans(ctx, spans); err != nil && primaryErr == nil {
		primaryErr = err
	}
	return primaryErr
}

func (m *mirrorExporter) Shutdown(ctx context.Context) error {
	primaryErr := m.primary.Shutdown(ctx)
	if err := m.secondary.Shutdown(ctx); err != nil && primaryErr == nil {
		primaryErr = err
	}
	return primaryErr
}
