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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/beacon/pkg/exporter"
)

// DefaultBaseURL is the hosted collector endpoint.
const DefaultBaseURL = "https://api.agentmark.co"

// settings collects everything New needs before wiring components.
type settings struct {
	apiKey    string
	baseURL   string
	appName   string
	appID     string
	tenantID  string
	apiKeyID  string
	expiresAt time.Time

	sampleRate         float64
	alwaysSampleErrors bool
	mode               exporter.Mode
	mirrorMode         exporter.Mode
	otlpEndpoint       string
	otlpInsecure       bool

	flushInterval time.Duration
	maxBufferSize int

	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a functional option for SDK construction.
type Option func(*settings) error

// WithAPIKey sets the API key used to sign outgoing payloads. When
// the key is a JWT its tenant, app, key id, and expiry claims seed
// the corresponding settings.
func WithAPIKey(key string) Option {
	return func(s *settings) error {
		if key == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		s.apiKey = key
		return nil
	}
}

// WithBaseURL overrides the collector base URL. Point it at a local
// collector during development:
//
//	sdk.WithBaseURL("http://127.0.0.1:4117")
func WithBaseURL(baseURL string) Option {
	return func(s *settings) error {
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		s.baseURL = baseURL
		return nil
	}
}

// WithAppName sets the service name recorded on every span's
// resource.
func WithAppName(name string) Option {
	return func(s *settings) error {
		s.appName = name
		return nil
	}
}

// WithAppID sets the application id sent with every batch. Unneeded
// when the API key is a JWT carrying an app_id claim.
func WithAppID(id string) Option {
	return func(s *settings) error {
		s.appID = id
		return nil
	}
}

// WithTenantID sets the tenant id sent with every batch. Unneeded
// when the API key is a JWT carrying a tenant_id claim.
func WithTenantID(id string) Option {
	return func(s *settings) error {
		s.tenantID = id
		return nil
	}
}

// WithSampleRate sets the trace sampling rate between 0 and 1.
// Error spans are kept regardless of the rate.
func WithSampleRate(rate float64) Option {
	return func(s *settings) error {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("sample rate must be between 0 and 1, got %v", rate)
		}
		s.sampleRate = rate
		return nil
	}
}

// WithExporterMode selects where spans go: "beacon" (default),
// "otlp", "otlp_http", "console", or "none".
func WithExporterMode(mode exporter.Mode) Option {
	return func(s *settings) error {
		s.mode = mode
		return nil
	}
}

// WithOTLPEndpoint sets the target for the "otlp" and "otlp_http"
// exporter modes.
func WithOTLPEndpoint(endpoint string, insecure bool) Option {
	return func(s *settings) error {
		if endpoint == "" {
			return fmt.Errorf("OTLP endpoint cannot be empty")
		}
		s.otlpEndpoint = endpoint
		s.otlpInsecure = insecure
		return nil
	}
}

// WithMirrorMode tees spans to a secondary exporter, typically
// "console" while debugging an integration.
func WithMirrorMode(mode exporter.Mode) Option {
	return func(s *settings) error {
		s.mirrorMode = mode
		return nil
	}
}

// WithFlushInterval overrides the steady-state flush period.
func WithFlushInterval(interval time.Duration) Option {
	return func(s *settings) error {
		if interval <= 0 {
			return fmt.Errorf("flush interval must be > 0")
		}
		s.flushInterval = interval
		return nil
	}
}

// WithMaxBufferSize bounds the number of buffered spans. Oldest
// records are dropped beyond the bound.
func WithMaxBufferSize(size int) Option {
	return func(s *settings) error {
		if size <= 0 {
			return fmt.Errorf("buffer size must be > 0")
		}
		s.maxBufferSize = size
		return nil
	}
}

// WithHTTPClient overrides the HTTP client used for delivery and
// scoring. Used in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		s.httpClient = client
		return nil
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}
