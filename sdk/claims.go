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
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// keyClaims are the identity claims embedded in JWT API keys.
type keyClaims struct {
	TenantID  string
	AppID     string
	KeyID     string
	ExpiresAt time.Time
}

// parseKeyClaims extracts identity claims from a JWT API key without
// verifying the signature. The collector owns verification; the
// client only needs the identity fields. Returns false when the key
// is not a parseable JWT.
func parseKeyClaims(apiKey string) (keyClaims, bool) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(apiKey, jwt.MapClaims{})
	if err != nil {
		return keyClaims{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return keyClaims{}, false
	}

	var out keyClaims
	if v, ok := claims["tenant_id"].(string); ok {
		out.TenantID = v
	}
	if v, ok := claims["app_id"].(string); ok {
		out.AppID = v
	}
	if v, ok := claims["key_id"].(string); ok {
		out.KeyID = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, true
}
