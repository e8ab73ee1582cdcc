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

// Package storage provides the SQLite-backed trace and score store
// behind the local collector.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/beacon/pkg/telemetry"
)

// SQLiteStore persists ingested spans and scores.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey *EncryptionKey
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// EnableEncryption enables AES-256-GCM encryption of stored
	// attributes. Requires BEACON_TRACE_KEY to be set.
	EnableEncryption bool
}

// New opens the database, configures WAL mode, and runs migrations.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// With WAL mode, SQLite can handle multiple readers concurrently
	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if cfg.EnableEncryption {
		key, err := LoadEncryptionKey()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		if key == nil {
			db.Close()
			return nil, fmt.Errorf("encryption enabled but no key found (set BEACON_TRACE_KEY)")
		}
		store.encryptionKey = key
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the database schema. All statements are idempotent.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations := []string{
		// Spans keyed by (trace_id, span_id); re-delivered batches
		// upsert rather than duplicate.
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_id TEXT,
			tenant_id TEXT NOT NULL DEFAULT '',
			app_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			duration_ms REAL,
			status_code INTEGER NOT NULL,
			status_message TEXT,
			attributes TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (trace_id, span_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_tenant ON spans(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time)`,

		// Trace summaries derived from spans, one row per trace.
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			root_span_id TEXT,
			name TEXT,
			tenant_id TEXT NOT NULL DEFAULT '',
			app_id TEXT NOT NULL DEFAULT '',
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			duration_ms REAL,
			status_code INTEGER,
			span_count INTEGER DEFAULT 0,
			error_count INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status_code)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_start_time ON traces(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_tenant ON traces(tenant_id)`,

		// Scores attach to traces by resource id.
		`CREATE TABLE IF NOT EXISTS scores (
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			score REAL NOT NULL,
			label TEXT,
			reason TEXT,
			type TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_resource ON scores(resource_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// UpsertSpan stores one wire span for a tenant/app. A span delivered
// twice (at-least-once delivery) overwrites its previous row.
func (s *SQLiteStore) UpsertSpan(ctx context.Context, tenantID, appID string, sd telemetry.SpanData) error {
	if sd.TraceID == "" {
		return fmt.Errorf("span trace_id is required")
	}
	if sd.SpanID == "" {
		return fmt.Errorf("span span_id is required")
	}

	startTime, err := parseWireTime(sd.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	var endTime *int64
	if sd.EndTime != "" {
		et, err := parseWireTime(sd.EndTime)
		if err != nil {
			return fmt.Errorf("invalid end time: %w", err)
		}
		endTime = &et
	}

	attributesJSON, err := json.Marshal(sd.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	attributesJSON, err = s.encryptData(attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to encrypt attributes: %w", err)
	}

	var parentID *string
	if sd.ParentSpanID != "" && sd.ParentSpanID != "0000000000000000" {
		parentID = &sd.ParentSpanID
	}

	query := `
		INSERT INTO spans (trace_id, span_id, parent_id, tenant_id, app_id, name, kind,
			start_time, end_time, duration_ms, status_code, status_message, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, span_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			kind = excluded.kind,
			end_time = excluded.end_time,
			duration_ms = excluded.duration_ms,
			status_code = excluded.status_code,
			status_message = excluded.status_message,
			attributes = excluded.attributes
	`

	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx, query,
		sd.TraceID, sd.SpanID, parentID, tenantID, appID, sd.Name, sd.Kind,
		startTime, endTime, float64(sd.Duration), sd.Status.Code, sd.Status.Message,
		attributesJSON, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store span: %w", err)
	}

	if err := s.updateTraceSummary(ctx, sd.TraceID, tenantID, appID); err != nil {
		return fmt.Errorf("failed to update trace summary: %w", err)
	}

	return nil
}

// updateTraceSummary recomputes the summary row for a trace.
func (s *SQLiteStore) updateTraceSummary(ctx context.Context, traceID, tenantID, appID string) error {
	query := `
		INSERT INTO traces (trace_id, root_span_id, name, tenant_id, app_id,
			start_time, end_time, duration_ms, status_code, span_count, error_count,
			created_at, updated_at)
		SELECT
			?,
			(SELECT span_id FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			(SELECT name FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			?,
			?,
			MIN(start_time),
			MAX(end_time),
			CASE WHEN MAX(end_time) IS NOT NULL
				THEN (MAX(end_time) - MIN(start_time)) / 1e6 ELSE NULL END,
			(SELECT status_code FROM spans WHERE trace_id = ? AND parent_id IS NULL LIMIT 1),
			COUNT(*),
			SUM(CASE WHEN status_code = 2 THEN 1 ELSE 0 END),
			?,
			?
		FROM spans WHERE trace_id = ?
		ON CONFLICT(trace_id) DO UPDATE SET
			root_span_id = excluded.root_span_id,
			name = excluded.name,
			end_time = excluded.end_time,
			duration_ms = excluded.duration_ms,
			status_code = excluded.status_code,
			span_count = excluded.span_count,
			error_count = excluded.error_count,
			updated_at = excluded.updated_at
	`

	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, query,
		traceID, traceID, traceID, tenantID, appID, traceID, now, now, traceID)
	if err != nil {
		return fmt.Errorf("failed to update trace summary: %w", err)
	}
	return nil
}

// StoreScore persists a score and returns its receipt id.
func (s *SQLiteStore) StoreScore(ctx context.Context, tenantID string, req telemetry.ScoreRequest) (string, error) {
	if req.ResourceID == "" {
		return "", fmt.Errorf("score resource_id is required")
	}
	if req.Name == "" {
		return "", fmt.Errorf("score name is required")
	}

	id := uuid.NewString()
	query := `
		INSERT INTO scores (id, resource_id, tenant_id, name, score, label, reason, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		id, req.ResourceID, tenantID, req.Name, req.Score,
		req.Label, req.Reason, req.Type, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to store score: %w", err)
	}
	return id, nil
}

// TraceSummary is one row of the traces table.
type TraceSummary struct {
	TraceID    string
	RootSpanID string
	Name       string
	TenantID   string
	AppID      string
	StartTime  time.Time
	EndTime    time.Time
	DurationMS float64
	StatusCode int
	SpanCount  int
	ErrorCount int
}

// TraceFilter narrows ListTraces results.
type TraceFilter struct {
	// TenantID filters by tenant.
	TenantID string

	// Status filters by root status code.
	Status *int

	// Since and Until bound the trace start time.
	Since *time.Time
	Until *time.Time

	// ErrorsOnly keeps traces with at least one error span.
	ErrorsOnly bool

	// Limit and Offset page the results.
	Limit  int
	Offset int
}

// ListTraces returns trace summaries matching the filter, newest
// first.
func (s *SQLiteStore) ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error) {
	query := `SELECT trace_id, COALESCE(root_span_id, ''), COALESCE(name, ''),
		tenant_id, app_id, start_time, COALESCE(end_time, 0),
		COALESCE(duration_ms, 0), COALESCE(status_code, 0), span_count, error_count
		FROM traces WHERE 1=1`
	args := []any{}

	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Status != nil {
		query += " AND status_code = ?"
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		query += " AND start_time >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Until != nil {
		query += " AND start_time <= ?"
		args = append(args, filter.Until.UnixNano())
	}
	if filter.ErrorsOnly {
		query += " AND error_count > 0"
	}

	query += " ORDER BY start_time DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var ts TraceSummary
		var startNS, endNS int64
		if err := rows.Scan(&ts.TraceID, &ts.RootSpanID, &ts.Name,
			&ts.TenantID, &ts.AppID, &startNS, &endNS,
			&ts.DurationMS, &ts.StatusCode, &ts.SpanCount, &ts.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		ts.StartTime = time.Unix(0, startNS)
		if endNS != 0 {
			ts.EndTime = time.Unix(0, endNS)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// GetTraceSpans returns all spans of a trace in start order.
func (s *SQLiteStore) GetTraceSpans(ctx context.Context, traceID string) ([]telemetry.SpanData, error) {
	query := `
		SELECT span_id, COALESCE(parent_id, ''), name, kind, start_time, end_time,
			duration_ms, status_code, COALESCE(status_message, ''), attributes
		FROM spans WHERE trace_id = ?
		ORDER BY start_time ASC
	`

	rows, err := s.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var spans []telemetry.SpanData
	for rows.Next() {
		sd := telemetry.SpanData{TraceID: traceID}
		var startNS int64
		var endNS *int64
		var durationMS *float64
		var attributesJSON []byte

		if err := rows.Scan(&sd.SpanID, &sd.ParentSpanID, &sd.Name, &sd.Kind,
			&startNS, &endNS, &durationMS, &sd.Status.Code, &sd.Status.Message,
			&attributesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}

		sd.StartTime = time.Unix(0, startNS).UTC().Format(time.RFC3339Nano)
		if endNS != nil {
			sd.EndTime = time.Unix(0, *endNS).UTC().Format(time.RFC3339Nano)
		}
		if durationMS != nil {
			sd.Duration = telemetry.Milliseconds(*durationMS)
		}

		if len(attributesJSON) > 0 {
			decrypted, err := s.decryptData(attributesJSON)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt attributes: %w", err)
			}
			if err := json.Unmarshal(decrypted, &sd.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
			}
		}

		spans = append(spans, sd)
	}
	return spans, rows.Err()
}

// Totals summarizes store contents for the status endpoint.
type Totals struct {
	Traces int64
	Spans  int64
	Scores int64

	// PerTenant maps tenant id to span count.
	PerTenant map[string]int64
}

// GetTotals returns aggregate counts.
func (s *SQLiteStore) GetTotals(ctx context.Context) (Totals, error) {
	var t Totals

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces").Scan(&t.Traces); err != nil {
		return t, fmt.Errorf("failed to count traces: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spans").Scan(&t.Spans); err != nil {
		return t, fmt.Errorf("failed to count spans: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scores").Scan(&t.Scores); err != nil {
		return t, fmt.Errorf("failed to count scores: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT tenant_id, COUNT(*) FROM spans GROUP BY tenant_id")
	if err != nil {
		return t, fmt.Errorf("failed to count per-tenant spans: %w", err)
	}
	defer rows.Close()

	t.PerTenant = map[string]int64{}
	for rows.Next() {
		var tenant string
		var count int64
		if err := rows.Scan(&tenant, &count); err != nil {
			return t, fmt.Errorf("failed to scan tenant count: %w", err)
		}
		t.PerTenant[tenant] = count
	}
	return t, rows.Err()
}

// DeleteTracesOlderThan removes traces that started before the given
// time, along with their spans and scores. Returns the number of
// traces deleted.
func (s *SQLiteStore) DeleteTracesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM traces WHERE start_time < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old traces: %w", err)
	}
	count, _ := result.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM spans WHERE trace_id NOT IN (SELECT trace_id FROM traces)"); err != nil {
		return count, fmt.Errorf("failed to delete orphaned spans: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM scores WHERE resource_id NOT IN (SELECT trace_id FROM traces)"); err != nil {
		return count, fmt.Errorf("failed to delete orphaned scores: %w", err)
	}

	return count, nil
}

// DeleteAllTraces empties the store. Used by the admin purge endpoint.
func (s *SQLiteStore) DeleteAllTraces(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM traces")
	if err != nil {
		return 0, fmt.Errorf("failed to delete traces: %w", err)
	}
	count, _ := result.RowsAffected()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM spans"); err != nil {
		return count, fmt.Errorf("failed to delete spans: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scores"); err != nil {
		return count, fmt.Errorf("failed to delete scores: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func parseWireTime(value string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, err
	}
	return t.UnixNano(), nil
}

func (s *SQLiteStore) encryptData(data []byte) ([]byte, error) {
	if s.encryptionKey == nil {
		return data, nil
	}
	encrypted, err := s.encryptionKey.Encrypt(data)
	if err != nil {
		return nil, err
	}
	return []byte(encrypted), nil
}

func (s *SQLiteStore) decryptData(data []byte) ([]byte, error) {
	if s.encryptionKey == nil || len(data) == 0 {
		return data, nil
	}
	return s.encryptionKey.Decrypt(string(data))
}
