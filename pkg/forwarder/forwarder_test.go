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

package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/signature"
	"github.com/tombee/beacon/pkg/telemetry"
)

// testConfig returns a config with intervals short enough for tests.
func testConfig(baseURL string) Config {
	return Config{
		APIKey:         "test-secret",
		BaseURL:        baseURL,
		AppID:          "app-1",
		AppName:        "test-app",
		TenantID:       "tenant-1",
		APIKeyID:       "key-1",
		FlushInterval:  20 * time.Millisecond,
		FlushTimeout:   2 * time.Second,
		RetryBaseDelay: 20 * time.Millisecond,
		RetryMaxDelay:  100 * time.Millisecond,
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func stopForwarder(t *testing.T, f *Forwarder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{
			name:  "missing base URL",
			cfg:   Config{APIKey: "key"},
			field: "base_url",
		},
		{
			name:  "missing API key",
			cfg:   Config{BaseURL: "http://localhost:4000"},
			field: "api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.cfg)
			if f != nil {
				t.Error("expected nil forwarder")
			}
			var cfgErr *beaconerrors.ConfigurationError
			if !beaconerrors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestForwarder_DeliversBatch(t *testing.T) {
	type captured struct {
		body    []byte
		headers http.Header
	}
	var mu sync.Mutex
	var got *captured
	var total int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env telemetry.Envelope
		json.Unmarshal(body, &env)
		mu.Lock()
		got = &captured{body: body, headers: r.Header.Clone()}
		total += len(env.ResourceSpans)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	f, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	f.Enqueue(rec(0))
	f.Enqueue(rec(1))

	waitFor(t, 2*time.Second, func() bool {
		return f.Stats().Sent == 2
	}, "batch delivery")

	mu.Lock()
	defer mu.Unlock()

	if total != 2 {
		t.Errorf("expected 2 records delivered, got %d", total)
	}

	ok, err := signature.Verify("test-secret", got.headers.Get(HeaderSignature), got.body)
	if err != nil || !ok {
		t.Errorf("signature did not verify: ok=%v err=%v", ok, err)
	}
	if got.headers.Get(HeaderAPIKeyID) != "key-1" {
		t.Errorf("expected key id header, got %q", got.headers.Get(HeaderAPIKeyID))
	}
	if got.headers.Get(HeaderAppID) != "app-1" {
		t.Errorf("expected app id header, got %q", got.headers.Get(HeaderAppID))
	}
	if got.headers.Get(HeaderTenantID) != "tenant-1" {
		t.Errorf("expected tenant id header, got %q", got.headers.Get(HeaderTenantID))
	}
	if ct := got.headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestForwarder_RetriesFailedBatch(t *testing.T) {
	var mu sync.Mutex
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	f.Enqueue(rec(0))

	waitFor(t, 5*time.Second, func() bool {
		return f.Stats().Sent == 1
	}, "delivery after retries")

	s := f.Stats()
	if s.RetryCount < 2 {
		t.Errorf("expected at least 2 retry attempts, got %d", s.RetryCount)
	}
	if s.Queued != 0 {
		t.Errorf("expected empty queue after delivery, got %d", s.Queued)
	}
}

func TestForwarder_PreservesOrderAcrossRetry(t *testing.T) {
	var mu sync.Mutex
	var attempts int
	var delivered []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		attempts++
		first := attempts == 1
		if !first {
			delivered = body
		}
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	// Only explicit flushes drive this test.
	cfg.FlushInterval = time.Minute
	cfg.RetryBaseDelay = time.Minute

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	ctx := context.Background()

	f.Enqueue(rec(0))
	f.Enqueue(rec(1))
	if err := f.Flush(ctx); err == nil {
		t.Fatal("expected first flush to fail")
	}

	// A newer record arrives after the failure.
	f.Enqueue(rec(2))
	if err := f.Flush(ctx); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var env telemetry.Envelope
	if err := json.Unmarshal(delivered, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if len(env.ResourceSpans) != 3 {
		t.Fatalf("expected 3 records, got %d", len(env.ResourceSpans))
	}
	// Retried records come before the newer one.
	for i := 0; i < 3; i++ {
		if string(env.ResourceSpans[i]) != string(rec(i)) {
			t.Errorf("position %d: expected %s, got %s", i, rec(i), env.ResourceSpans[i])
		}
	}
}

func TestForwarder_ExpiredCredentialsSkipFlush(t *testing.T) {
	var mu sync.Mutex
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.ExpiresAt = time.Now().Add(-time.Hour)

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	f.Enqueue(rec(0))

	flushErr := f.Flush(context.Background())
	var expErr *beaconerrors.CredentialExpiredError
	if !beaconerrors.As(flushErr, &expErr) {
		t.Fatalf("expected CredentialExpiredError, got %v", flushErr)
	}
	if expErr.KeyID != "key-1" {
		t.Errorf("expected key id key-1, got %q", expErr.KeyID)
	}

	// Let several flush intervals pass.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if requests != 0 {
		t.Errorf("expected no network calls with expired credentials, got %d", requests)
	}
	mu.Unlock()

	stopForwarder(t, f)

	s := f.Stats()
	// Buffered records survive shutdown for a future forwarder; the
	// final flush must not drain what it cannot deliver.
	if s.Queued != 1 {
		t.Errorf("expected record still queued after stop, got %d", s.Queued)
	}
	// The explicit flush and the shutdown flush both skipped.
	if s.CredentialSkips < 2 {
		t.Errorf("expected at least 2 credential skips, got %d", s.CredentialSkips)
	}
}

func TestForwarder_DropsOldestWhenFull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxBufferSize = 5
	// Keep the timer from draining mid-test.
	cfg.FlushInterval = time.Minute

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	for i := 0; i < 8; i++ {
		f.Enqueue(rec(i))
	}

	s := f.Stats()
	if s.Queued != 5 {
		t.Errorf("expected 5 queued, got %d", s.Queued)
	}
	if s.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", s.Dropped)
	}
}

func TestForwarder_DropsBatchAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	f.Enqueue(rec(0))

	waitFor(t, 5*time.Second, func() bool {
		return f.Stats().Dropped == 1
	}, "batch drop after retry limit")

	s := f.Stats()
	if s.Queued != 0 {
		t.Errorf("expected empty queue after drop, got %d", s.Queued)
	}
	if s.Sent != 0 {
		t.Errorf("expected nothing sent, got %d", s.Sent)
	}
}

func TestForwarder_StopFlushesPending(t *testing.T) {
	var mu sync.Mutex
	var received int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env telemetry.Envelope
		json.Unmarshal(body, &env)
		mu.Lock()
		received += len(env.ResourceSpans)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.FlushInterval = time.Minute

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	f.Enqueue(rec(0))
	f.Enqueue(rec(1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received != 2 {
		t.Errorf("expected 2 records flushed on stop, got %d", received)
	}
}

func TestForwarder_RequeuesUnderCapOnPersistentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 100
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	f.Enqueue(rec(0))

	// Under the retry cap each failure requeues the record.
	waitFor(t, 5*time.Second, func() bool {
		s := f.Stats()
		return s.RetryCount >= 2 && s.Queued == 1
	}, "record requeued after failures")

	s := f.Stats()
	if s.Failed < 1 {
		t.Errorf("expected failed count, got %d", s.Failed)
	}
	if s.RetryCount < 1 {
		t.Errorf("expected retry count, got %d", s.RetryCount)
	}
	if s.Queued != 1 {
		t.Errorf("expected record still queued, got %d", s.Queued)
	}
	if s.Dropped != 0 {
		t.Errorf("expected nothing dropped under the cap, got %d", s.Dropped)
	}
	if s.Sent != 0 {
		t.Errorf("expected nothing sent, got %d", s.Sent)
	}
}

func TestForwarder_StopWithEndpointDownReturnsPromptly(t *testing.T) {
	var mu sync.Mutex
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	// Only the shutdown flush should touch the network.
	cfg.FlushInterval = time.Minute
	cfg.ShutdownTimeout = 500 * time.Millisecond

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	f.Enqueue(rec(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	elapsed := time.Since(start)

	// One best-effort attempt, no retry loop holding up shutdown.
	if elapsed > 2*time.Second {
		t.Errorf("stop took %v, expected a prompt return", elapsed)
	}
	mu.Lock()
	if attempts != 1 {
		t.Errorf("expected exactly 1 delivery attempt on stop, got %d", attempts)
	}
	mu.Unlock()
	if s := f.Stats(); s.Sent != 0 {
		t.Errorf("expected nothing sent, got %d", s.Sent)
	}
}

func TestForwarder_StopIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	ctx := context.Background()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestForwarder_FlushAfterStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}

	ctx := context.Background()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := f.Flush(ctx); err == nil {
		t.Error("expected error flushing a stopped forwarder")
	}
}

func TestForwarder_EmptyFlushIsNoop(t *testing.T) {
	var mu sync.Mutex
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	defer stopForwarder(t, f)

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 0 {
		t.Errorf("expected no requests for empty flush, got %d", requests)
	}
}
