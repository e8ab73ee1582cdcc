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

// Package collector implements the local development collector: a
// signed ingest endpoint backed by the SQLite store, with per-tenant
// rate limiting, attribute redaction, Prometheus metrics, and
// token-guarded admin endpoints.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/storage"
	"github.com/tombee/beacon/pkg/forwarder"
	"github.com/tombee/beacon/pkg/signature"
	"github.com/tombee/beacon/pkg/telemetry"
)

// maxBodyBytes caps ingest request bodies.
const maxBodyBytes = 10 << 20

// defaultKeyTTL is how long issued dev keys stay valid.
const defaultKeyTTL = 720 * time.Hour

// Server is the collector HTTP server.
type Server struct {
	cfg      config.CollectorConfig
	store    *storage.SQLiteStore
	keys     *KeyStore
	limiter  *tenantLimiter
	redactor *Redactor
	metrics  *metrics
	logger   *slog.Logger
	started  time.Time
	janitor  config.StorageConfig
}

// New builds a collector server over the given store.
func New(cfg config.CollectorConfig, storageCfg config.StorageConfig, store *storage.SQLiteStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "collector")

	keys, err := NewKeyStore(cfg.KeysFile, logger)
	if err != nil {
		return nil, err
	}

	redactor, err := NewRedactor(cfg.Redact)
	if err != nil {
		return nil, err
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		keys:     keys,
		redactor: redactor,
		metrics:  m,
		logger:   logger,
		started:  time.Now(),
		janitor:  storageCfg,
	}
	if cfg.RateLimit.IsEnabled() {
		s.limiter = newTenantLimiter(cfg.RateLimit.PerTenantRPS, cfg.RateLimit.Burst)
	}
	return s, nil
}

// Keys exposes the key store for the dev command's key issuance.
func (s *Server) Keys() *KeyStore {
	return s.keys
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/traces", s.handleIngest)
	mux.HandleFunc("POST /v1/score", s.handleScore)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.Handle("GET /metrics", s.metrics.handler())
	mux.HandleFunc("DELETE /v1/traces", s.requireAdmin(s.handleDeleteTraces))
	mux.HandleFunc("POST /v1/keys", s.requireAdmin(s.handleIssueKey))
	return log.NewHTTPMiddleware(s.logger).Wrap(mux)
}

// Run serves HTTP, watches the key table, and runs the retention
// janitor until ctx is canceled. It returns after graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("collector listening", log.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		if err := s.metrics.shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics shutdown failed", log.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		err := s.keys.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return s.runJanitor(ctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runJanitor periodically deletes traces older than the retention
// window.
func (s *Server) runJanitor(ctx context.Context) error {
	if s.janitor.Retention <= 0 || s.janitor.JanitorInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.janitor.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-s.janitor.Retention)
			deleted, err := s.store.DeleteTracesOlderThan(ctx, cutoff)
			if err != nil {
				s.logger.Warn("retention sweep failed", log.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Info("retention sweep",
					log.Int64("deleted_traces", deleted),
					log.String("cutoff", cutoff.UTC().Format(time.RFC3339)))
			}
		}
	}
}

// authenticate verifies the key id and signature on an ingest request
// and returns the matched key. The body is returned so callers can
// decode it after verification.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (Key, []byte, bool) {
	keyID := r.Header.Get(forwarder.HeaderAPIKeyID)
	if keyID == "" {
		s.reject(r.Context(), w, http.StatusUnauthorized, "missing key id", "missing_key_id")
		return Key{}, nil, false
	}

	key, ok := s.keys.Lookup(keyID)
	if !ok {
		s.reject(r.Context(), w, http.StatusUnauthorized, "unknown key id", "unknown_key_id")
		return Key{}, nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.reject(r.Context(), w, http.StatusRequestEntityTooLarge, "request body too large", "body_too_large")
		return Key{}, nil, false
	}

	valid, err := signature.Verify(key.signingSecret(), r.Header.Get(forwarder.HeaderSignature), body)
	if err != nil || !valid {
		s.reject(r.Context(), w, http.StatusUnauthorized, "invalid signature", "invalid_signature")
		return Key{}, nil, false
	}

	if s.limiter != nil && !s.limiter.Allow(key.TenantID) {
		w.Header().Set("Retry-After", "1")
		s.reject(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
		return Key{}, nil, false
	}

	return key, body, true
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var envelope telemetry.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.reject(r.Context(), w, http.StatusBadRequest, "malformed envelope", "bad_envelope")
		return
	}

	accepted := 0
	for _, raw := range envelope.ResourceSpans {
		var span telemetry.SpanData
		if err := json.Unmarshal(raw, &span); err != nil {
			s.logger.Warn("skipping malformed span record", log.Error(err))
			continue
		}
		s.redactor.Apply(span.Attributes)
		if err := s.store.UpsertSpan(r.Context(), key.TenantID, key.AppID, span); err != nil {
			s.logger.Warn("failed to store span",
				log.String(log.TraceIDKey, span.TraceID),
				log.Error(err))
			continue
		}
		accepted++
	}

	s.metrics.spansIngested.Add(r.Context(), int64(accepted), tenantAttrs(key.TenantID))
	s.metrics.batchSize.Record(r.Context(), int64(len(envelope.ResourceSpans)), tenantAttrs(key.TenantID))
	s.metrics.ingestDuration.Record(r.Context(), float64(time.Since(start).Microseconds())/1000.0)

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	key, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req telemetry.ScoreRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(r.Context(), w, http.StatusBadRequest, "malformed score", "bad_score")
		return
	}

	id, err := s.store.StoreScore(r.Context(), key.TenantID, req)
	if err != nil {
		s.reject(r.Context(), w, http.StatusBadRequest, err.Error(), "bad_score")
		return
	}

	s.metrics.scoresIngested.Add(r.Context(), 1, tenantAttrs(key.TenantID))
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.GetTotals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read store totals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"keys":           s.keys.Len(),
		"totals": map[string]any{
			"traces": totals.Traces,
			"spans":  totals.Spans,
			"scores": totals.Scores,
		},
		"per_tenant": totals.PerTenant,
	})
}

// requireAdmin guards admin endpoints with the bcrypt-hashed admin
// token. An unset hash hides the endpoints entirely.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminTokenHash == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing admin token")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminTokenHash), []byte(token)); err != nil {
			s.metrics.recordReject(r.Context(), "bad_admin_token")
			writeError(w, http.StatusForbidden, "invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleDeleteTraces(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteAllTraces(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete traces")
		return
	}
	s.logger.Info("traces purged", log.Int64("deleted", deleted))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type issueKeyRequest struct {
	TenantID string `json:"tenantId"`
	AppID    string `json:"appId"`
	TTL      string `json:"ttl,omitempty"`
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if req.TenantID == "" || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "tenantId and appId are required")
		return
	}

	ttl := defaultKeyTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}

	key, token, err := s.keys.IssueKey(req.TenantID, req.AppID, ttl)
	if err != nil {
		s.logger.Error("key issuance failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue key")
		return
	}

	s.logger.Info("dev key issued",
		log.String("key_id", key.KeyID),
		log.String(log.TenantIDKey, key.TenantID),
		log.String(log.AppIDKey, key.AppID))

	writeJSON(w, http.StatusCreated, map[string]any{
		"keyId":     key.KeyID,
		"secret":    key.Secret,
		"token":     token,
		"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

func (s *Server) reject(ctx context.Context, w http.ResponseWriter, status int, message, reason string) {
	s.metrics.recordReject(ctx, reason)
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}
