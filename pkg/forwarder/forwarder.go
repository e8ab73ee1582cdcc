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

// Package forwarder delivers buffered telemetry records to a remote
// collector. A single goroutine owns the flush timer; Enqueue never
// performs network I/O and is safe from any goroutine. A failed batch
// is requeued at the head and retried with exponential backoff, so
// delivery is at-least-once and ordering is preserved per forwarder.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
	"github.com/tombee/beacon/pkg/httpclient"
	"github.com/tombee/beacon/pkg/signature"
	"github.com/tombee/beacon/pkg/telemetry"
)

const tracesPath = "/v1/traces"

// Headers attached to every trace POST.
const (
	HeaderSignature = "X-Signature"
	HeaderAPIKeyID  = "X-Api-Key-Id"
	HeaderAppID     = "X-App-Id"
	HeaderTenantID  = "X-Tenant-Id"
)

// Config captures forwarder settings at construction. A forwarder's
// config never changes; build a new forwarder for new credentials.
type Config struct {
	// APIKey signs outgoing payloads and identifies the caller.
	APIKey string
	// BaseURL is the collector base URL, e.g. https://api.agentmark.co.
	BaseURL string
	// AppID, AppName, TenantID, APIKeyID identify the traced app.
	AppID    string
	AppName  string
	TenantID string
	APIKeyID string
	// ExpiresAt is the API key expiry. Zero means no expiry.
	ExpiresAt time.Time

	// MaxBufferSize bounds queued records; oldest are dropped beyond it.
	MaxBufferSize int
	// MaxRetries caps delivery attempts per batch before it is dropped.
	MaxRetries int
	// FlushInterval is the steady-state flush period.
	FlushInterval time.Duration
	// FlushTimeout bounds a single delivery attempt.
	FlushTimeout time.Duration
	// ShutdownTimeout bounds the final flush in Stop.
	ShutdownTimeout time.Duration
	// RetryBaseDelay and RetryMaxDelay shape the backoff schedule.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// HTTPClient overrides the default client. Used in tests.
	HTTPClient *http.Client
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Defaults applied by New for zero-valued fields.
const (
	DefaultMaxBufferSize   = 2048
	DefaultMaxRetries      = 5
	DefaultFlushInterval   = 1 * time.Second
	DefaultFlushTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultRetryBaseDelay  = 1 * time.Second
	DefaultRetryMaxDelay   = 30 * time.Second
)

func (c *Config) applyDefaults() {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return &beaconerrors.ConfigurationError{
			Field:  "base_url",
			Reason: "collector base URL is required",
		}
	}
	if c.APIKey == "" {
		return &beaconerrors.ConfigurationError{
			Field:  "api_key",
			Reason: "API key is required",
		}
	}
	return nil
}

// flushRequest carries an explicit Flush call into the run loop so
// flushes stay single-flight.
type flushRequest struct {
	ctx  context.Context
	done chan error
}

// Forwarder owns a batch buffer and the timer loop that drains it.
type Forwarder struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	buf   *Buffer
	stats *reporter

	flushCh  chan flushRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// failCount is the consecutive failure count for the batch at the
	// head of the buffer. Owned by the run loop.
	failCount int
}

// New validates cfg, applies defaults, and starts the flush loop.
func New(cfg Config) (*Forwarder, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Timeout = cfg.FlushTimeout
		var err error
		client, err = httpclient.New(hc)
		if err != nil {
			return nil, beaconerrors.Wrap(err, "failed to build HTTP client")
		}
	}

	f := &Forwarder{
		cfg:     cfg,
		client:  client,
		logger:  cfg.Logger,
		buf:     NewBuffer(),
		stats:   &reporter{},
		flushCh: make(chan flushRequest),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// Enqueue appends a record to the buffer. Never blocks and never
// performs network I/O. When the buffer exceeds MaxBufferSize the
// oldest records are evicted and counted as dropped.
func (f *Forwarder) Enqueue(rec Record) {
	f.buf.Enqueue(rec)
	f.stats.OnEnqueue()

	if over := f.buf.Len() - f.cfg.MaxBufferSize; over > 0 {
		evicted := f.buf.EvictOldest(over)
		if evicted > 0 {
			f.stats.OnDrop(evicted)
			f.logger.Warn("buffer full, dropping oldest records",
				"dropped", evicted,
				"max_buffer_size", f.cfg.MaxBufferSize)
		}
	}
}

// Stats returns a snapshot of delivery counters.
func (f *Forwarder) Stats() Stats {
	return f.stats.Snapshot()
}

// Flush requests an immediate flush and waits for its outcome. The
// flush itself runs on the forwarder goroutine so it never overlaps a
// timer-driven flush.
func (f *Forwarder) Flush(ctx context.Context) error {
	req := flushRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case f.flushCh <- req:
	case <-f.done:
		return beaconerrors.New("forwarder is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the timer loop and performs one best-effort final flush
// bounded by ShutdownTimeout. Idempotent; safe to call concurrently.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) run() {
	defer close(f.done)

	timer := time.NewTimer(f.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			next := f.flushOnce(context.Background())
			timer.Reset(next)

		case req := <-f.flushCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			next, err := f.flushWithError(req.ctx)
			req.done <- err
			timer.Reset(next)

		case <-f.stopCh:
			f.finalFlush()
			return
		}
	}
}

// flushOnce drains and sends one batch, returning the delay until the
// next flush: the steady interval on success or empty, backoff on
// failure. Failures are logged inside flushWithError.
func (f *Forwarder) flushOnce(ctx context.Context) time.Duration {
	next, _ := f.flushWithError(ctx)
	return next
}

func (f *Forwarder) flushWithError(ctx context.Context) (time.Duration, error) {
	if f.buf.Len() == 0 {
		return f.cfg.FlushInterval, nil
	}

	if err := f.checkCredentials(); err != nil {
		// Skip the network call but keep the buffer; a new forwarder
		// with fresh credentials can still deliver these records.
		f.stats.OnCredentialSkip()
		f.logger.Warn("skipping flush, credentials expired",
			"key_id", f.cfg.APIKeyID,
			"expired_at", f.cfg.ExpiresAt.Format(time.RFC3339))
		return f.cfg.FlushInterval, err
	}

	batch := f.buf.Drain()
	if len(batch) == 0 {
		return f.cfg.FlushInterval, nil
	}
	f.stats.OnFlushStart(len(batch))

	sendCtx, cancel := context.WithTimeout(ctx, f.cfg.FlushTimeout)
	err := f.send(sendCtx, batch)
	cancel()

	if err == nil {
		f.stats.OnFlushSuccess(len(batch))
		f.failCount = 0
		f.logger.Debug("batch delivered", "batch_size", len(batch))
		return f.cfg.FlushInterval, nil
	}

	f.stats.OnFlushFailure(len(batch))
	f.failCount++

	if f.failCount > f.cfg.MaxRetries {
		f.stats.OnDrop(len(batch))
		f.logger.Warn("batch exceeded retry limit, dropping",
			"batch_size", len(batch),
			"retries", f.failCount-1)
		f.failCount = 0
		return f.cfg.FlushInterval, err
	}

	f.buf.Requeue(batch)
	if over := f.buf.Len() - f.cfg.MaxBufferSize; over > 0 {
		evicted := f.buf.EvictOldest(over)
		f.stats.OnDrop(evicted)
	}

	delay := backoffDelay(f.cfg.RetryBaseDelay, f.cfg.RetryMaxDelay, f.failCount)
	f.logger.Warn("flush failed, retry scheduled",
		"batch_size", len(batch),
		"attempt", f.failCount,
		"retry_in", delay.Round(time.Millisecond).String(),
		"error", err)
	return delay, err
}

// finalFlush makes one delivery attempt during shutdown. No retry; a
// failure here only logs.
func (f *Forwarder) finalFlush() {
	if f.buf.Len() == 0 {
		return
	}
	if err := f.checkCredentials(); err != nil {
		// Leave the buffer alone so the records stay visible in stats.
		f.stats.OnCredentialSkip()
		f.logger.Warn("skipping final flush, credentials expired",
			"key_id", f.cfg.APIKeyID)
		return
	}

	batch := f.buf.Drain()
	if len(batch) == 0 {
		return
	}
	f.stats.OnFlushStart(len(batch))
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ShutdownTimeout)
	defer cancel()

	if err := f.send(ctx, batch); err != nil {
		f.stats.OnFlushFailure(len(batch))
		f.logger.Warn("final flush failed", "batch_size", len(batch), "error", err)
		return
	}
	f.stats.OnFlushSuccess(len(batch))
}

func (f *Forwarder) checkCredentials() error {
	if f.cfg.ExpiresAt.IsZero() || time.Now().Before(f.cfg.ExpiresAt) {
		return nil
	}
	return &beaconerrors.CredentialExpiredError{
		KeyID:     f.cfg.APIKeyID,
		ExpiredAt: f.cfg.ExpiresAt,
	}
}

// send signs and POSTs one batch to the collector.
func (f *Forwarder) send(ctx context.Context, batch []Record) error {
	payload, err := json.Marshal(telemetry.Envelope{ResourceSpans: batch})
	if err != nil {
		return beaconerrors.Wrap(err, "failed to marshal batch")
	}

	endpoint := f.cfg.BaseURL + tracesPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return beaconerrors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature.Sign(f.cfg.APIKey, payload))
	req.Header.Set(HeaderAPIKeyID, f.cfg.APIKeyID)
	req.Header.Set(HeaderAppID, f.cfg.AppID)
	req.Header.Set(HeaderTenantID, f.cfg.TenantID)

	resp, err := f.client.Do(req)
	if err != nil {
		return &beaconerrors.TransientDeliveryError{
			Endpoint: endpoint,
			Records:  len(batch),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &beaconerrors.TransientDeliveryError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Records:    len(batch),
			Cause:      fmt.Errorf("collector returned %s: %s", resp.Status, body),
		}
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
