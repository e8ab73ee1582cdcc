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
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// metrics carries the collector's OTel instruments, exported through
// a Prometheus registry at /metrics.
type metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	spansIngested  metric.Int64Counter
	scoresIngested metric.Int64Counter
	rejected       metric.Int64Counter
	batchSize      metric.Int64Histogram
	ingestDuration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("beacon/collector")

	m := &metrics{registry: registry, provider: provider}

	m.spansIngested, err = meter.Int64Counter("beacon_ingest_spans_total",
		metric.WithDescription("Spans accepted into the store"))
	if err != nil {
		return nil, err
	}
	m.scoresIngested, err = meter.Int64Counter("beacon_ingest_scores_total",
		metric.WithDescription("Scores accepted into the store"))
	if err != nil {
		return nil, err
	}
	m.rejected, err = meter.Int64Counter("beacon_ingest_rejected_total",
		metric.WithDescription("Requests rejected before storage"))
	if err != nil {
		return nil, err
	}
	m.batchSize, err = meter.Int64Histogram("beacon_ingest_batch_size",
		metric.WithDescription("Spans per ingested envelope"))
	if err != nil {
		return nil, err
	}
	m.ingestDuration, err = meter.Float64Histogram("beacon_ingest_duration_ms",
		metric.WithDescription("Ingest handler latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) recordReject(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func tenantAttrs(tenantID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tenant_id", tenantID))
}
