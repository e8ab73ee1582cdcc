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

// Package sdk provides the embeddable tracing client for Go
// applications. It wires an OpenTelemetry TracerProvider to the
// beacon forwarder so spans are batched, signed, and shipped to a
// collector without the application managing any of that itself.
//
// # Quick Start
//
//	s, err := sdk.New(
//		sdk.WithAPIKey(os.Getenv("BEACON_API_KEY")),
//		sdk.WithAppName("checkout-service"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Shutdown(context.Background())
//
//	tracer := s.Tracer()
//	ctx, span := tracer.Start(ctx, "handle-request")
//	defer span.End()
//
// When the API key is a JWT, tenant, app, key id, and expiry are read
// from its claims; explicit options cover plain keys.
package sdk
