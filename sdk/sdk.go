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

package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/beacon/pkg/exporter"
	"github.com/tombee/beacon/pkg/forwarder"
	"github.com/tombee/beacon/pkg/httpclient"
)

// tracerName identifies spans started through SDK.Tracer.
const tracerName = "github.com/tombee/beacon/sdk"

// SDK owns a TracerProvider wired to the beacon delivery pipeline.
// Each instance is fully isolated; create one per traced application.
type SDK struct {
	cfg      settings
	fwd      *forwarder.Forwarder
	provider *sdktrace.TracerProvider
	client   *http.Client
	logger   *slog.Logger

	closeMu sync.Mutex
	closed  bool
}

// New creates an SDK instance and installs its tracer pipeline.
//
//	s, err := sdk.New(
//		sdk.WithAPIKey(os.Getenv("BEACON_API_KEY")),
//		sdk.WithAppName("checkout-service"),
//		sdk.WithSampleRate(0.25),
//	)
func New(opts ...Option) (*SDK, error) {
	cfg := settings{
		baseURL:            DefaultBaseURL,
		sampleRate:         1.0,
		alwaysSampleErrors: true,
		mode:               exporter.ModeBeacon,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.appName == "" {
		cfg.appName = "beacon-app"
	}

	// JWT API keys carry their own identity; fill whatever the
	// caller did not set explicitly.
	if claims, ok := parseKeyClaims(cfg.apiKey); ok {
		if cfg.tenantID == "" {
			cfg.tenantID = claims.TenantID
		}
		if cfg.appID == "" {
			cfg.appID = claims.AppID
		}
		if cfg.apiKeyID == "" {
			cfg.apiKeyID = claims.KeyID
		}
		if cfg.expiresAt.IsZero() {
			cfg.expiresAt = claims.ExpiresAt
		}
	}

	s := &SDK{cfg: cfg, logger: cfg.logger}

	client := cfg.httpClient
	if client == nil {
		var err error
		client, err = httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build http client: %w", err)
		}
	}
	s.client = client

	if cfg.mode == exporter.ModeBeacon || cfg.mirrorMode == exporter.ModeBeacon {
		fwd, err := forwarder.New(forwarder.Config{
			APIKey:        cfg.apiKey,
			BaseURL:       cfg.baseURL,
			AppID:         cfg.appID,
			AppName:       cfg.appName,
			TenantID:      cfg.tenantID,
			APIKeyID:      cfg.apiKeyID,
			ExpiresAt:     cfg.expiresAt,
			FlushInterval: cfg.flushInterval,
			MaxBufferSize: cfg.maxBufferSize,
			HTTPClient:    cfg.httpClient,
			Logger:        cfg.logger,
		})
		if err != nil {
			return nil, err
		}
		s.fwd = fwd
	}

	exp, err := exporter.NewSpanExporter(context.Background(), exporter.Config{
		Mode:       cfg.mode,
		MirrorMode: cfg.mirrorMode,
		Sink:       sinkOrNil(s.fwd),
		Endpoint:   cfg.otlpEndpoint,
		Insecure:   cfg.otlpInsecure,
		Logger:     cfg.logger,
	})
	if err != nil {
		if s.fwd != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), forwarder.DefaultShutdownTimeout)
			defer cancel()
			_ = s.fwd.Stop(stopCtx)
		}
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.appName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	s.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(exporter.NewSampler(exporter.SamplerConfig{
			Rate:               cfg.sampleRate,
			AlwaysSampleErrors: cfg.alwaysSampleErrors,
		}))),
		sdktrace.WithBatcher(exp),
	)

	return s, nil
}

// sinkOrNil keeps the factory's nil check meaningful: a typed nil
// *Forwarder inside the interface would defeat it.
func sinkOrNil(fwd *forwarder.Forwarder) exporter.Sink {
	if fwd == nil {
		return nil
	}
	return fwd
}

// Tracer returns a tracer from the SDK's provider.
func (s *SDK) Tracer() trace.Tracer {
	return s.provider.Tracer(tracerName)
}

// TracerProvider exposes the provider for applications that install
// it globally via otel.SetTracerProvider.
func (s *SDK) TracerProvider() trace.TracerProvider {
	return s.provider
}

// Stats returns delivery counters. Zero-valued when the exporter mode
// bypasses the forwarder.
func (s *SDK) Stats() forwarder.Stats {
	if s.fwd == nil {
		return forwarder.Stats{}
	}
	return s.fwd.Stats()
}

// Flush forces buffered spans through the pipeline.
func (s *SDK) Flush(ctx context.Context) error {
	if err := s.provider.ForceFlush(ctx); err != nil {
		return err
	}
	if s.fwd == nil {
		return nil
	}
	return s.fwd.Flush(ctx)
}

// Shutdown flushes pending spans and stops the pipeline. Safe to call
// more than once.
func (s *SDK) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Provider shutdown drains the batch processor into the exporter,
	// whose own Shutdown stops the forwarder with a final flush.
	return s.provider.Shutdown(ctx)
}
