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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// filteredAttributeKeys mark internal framework spans (Next.js
// instrumentation noise) that should never reach the collector.
var filteredAttributeKeys = []string{
	"next.span_name",
	"next.clientComponentLoadCount",
}

// SamplerConfig configures trace sampling behavior.
type SamplerConfig struct {
	// Rate is the sampling rate (0.0 - 1.0). 1.0 samples everything.
	Rate float64

	// AlwaysSampleErrors keeps spans carrying an error attribute even
	// when the rate would drop them.
	AlwaysSampleErrors bool
}

// NewSampler creates a sampler that drops internal framework spans and
// rate-samples the rest.
func NewSampler(cfg SamplerConfig) sdktrace.Sampler {
	var base sdktrace.Sampler
	switch {
	case cfg.Rate >= 1.0:
		base = sdktrace.AlwaysSample()
	case cfg.Rate <= 0.0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(cfg.Rate)
	}
	return &filteringSampler{
		base:               base,
		alwaysSampleErrors: cfg.AlwaysSampleErrors,
	}
}

// filteringSampler drops spans whose attributes identify them as
// framework internals, then defers to the base sampler.
type filteringSampler struct {
	base               sdktrace.Sampler
	alwaysSampleErrors bool
}

// ShouldSample implements the Sampler interface.
func (s *filteringSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	tracestate := trace.SpanContextFromContext(params.ParentContext).TraceState()

	for _, attr := range params.Attributes {
		for _, key := range filteredAttributeKeys {
			if string(attr.Key) == key {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.Drop,
					Tracestate: tracestate,
				}
			}
		}
		if s.alwaysSampleErrors && attr.Key == "error" && attr.Value.AsBool() {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: tracestate,
			}
		}
	}

	return s.base.ShouldSample(params)
}

// Description returns a description of the sampler.
func (s *filteringSampler) Description() string {
	return "BeaconSampler{base=" + s.base.Description() + "}"
}
