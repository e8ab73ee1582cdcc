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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/forwarder"
	"github.com/tombee/beacon/pkg/signature"
	"github.com/tombee/beacon/pkg/telemetry"
)

const scorePath = "/v1/score"

// Score attaches an evaluation score to a trace. Unlike span
// delivery, scoring is synchronous: the call returns once the
// collector has acknowledged the score.
func (s *SDK) Score(ctx context.Context, req telemetry.ScoreRequest) error {
	if req.ResourceID == "" {
		return &beaconerrors.ValidationError{
			Field:   "resourceId",
			Message: "resource id is required",
		}
	}
	if req.Name == "" {
		return &beaconerrors.ValidationError{
			Field:   "name",
			Message: "score name is required",
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.baseURL+scorePath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(forwarder.HeaderSignature, signature.Sign(s.cfg.apiKey, payload))
	httpReq.Header.Set(forwarder.HeaderAPIKeyID, s.cfg.apiKeyID)
	httpReq.Header.Set(forwarder.HeaderAppID, s.cfg.appID)
	httpReq.Header.Set(forwarder.HeaderTenantID, s.cfg.tenantID)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &beaconerrors.CollectorError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}
	return nil
}
