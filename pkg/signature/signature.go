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

// Package signature implements the HMAC-SHA256 payload signing scheme
// used to authenticate batches forwarded to a collector.
//
// A signature header has the form "sha256=<lowercase hex digest>". The
// forwarder signs each batch payload with the API key as secret; the
// collector verifies the header before accepting the batch.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix is the algorithm tag prepended to every signature header.
const Prefix = "sha256="

// defaultSecret is used when an empty secret is supplied. This keeps
// unsigned development setups working; it is not a security boundary.
const defaultSecret = "beacon-default-secret"

// Sign computes the HMAC-SHA256 signature of payload keyed by secret and
// returns it in header form: "sha256=" followed by the lowercase hex digest.
// An empty secret falls back to a fixed default value.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, secretKey(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header against the expected HMAC of payload.
// A header without an "=" separator fails closed (false, nil). A digest
// that is not valid hex propagates the decode error. The comparison is
// constant-time.
func Verify(secret, header string, payload []byte) (bool, error) {
	_, digest, found := strings.Cut(header, "=")
	if !found {
		return false, nil
	}

	got, err := hex.DecodeString(digest)
	if err != nil {
		return false, fmt.Errorf("decoding signature digest: %w", err)
	}

	mac := hmac.New(sha256.New, secretKey(secret))
	mac.Write(payload)
	want := mac.Sum(nil)

	return hmac.Equal(got, want), nil
}

// secretKey derives the HMAC key bytes for a secret, applying the
// documented empty-secret fallback. Keys are derived per call; there is
// no process-global key cache.
func secretKey(secret string) []byte {
	if secret == "" {
		secret = defaultSecret
	}
	return []byte(secret)
}
