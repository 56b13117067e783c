package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/domain/usage"
	"github.com/pixelpress/pixelpress/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// RecordBatch stores multiple usage events in one transaction.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events (
			id, key_id, tenant_id, request_id, outcome, error_code, pool,
			operations, original_bytes, optimized_bytes, latency_ms,
			sandbox, ip_address, user_agent, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		ops, err := json.Marshal(e.Operations)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.KeyID, e.TenantID, e.RequestID, string(e.Outcome),
			e.ErrorCode, string(e.Pool), string(ops), e.OriginalBytes,
			e.OptimizedBytes, e.LatencyMs, e.Sandbox, e.IPAddress,
			e.UserAgent, e.Timestamp,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetSummary returns aggregated usage for a period.
func (s *UsageStore) GetSummary(ctx context.Context, tenantID string, start, end time.Time) (usage.Summary, error) {
	events, err := s.query(ctx, `
		SELECT id, key_id, tenant_id, request_id, outcome, error_code, pool,
			operations, original_bytes, optimized_bytes, latency_ms,
			sandbox, ip_address, user_agent, timestamp
		FROM usage_events
		WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?
	`, tenantID, start, end)
	if err != nil {
		return usage.Summary{}, err
	}
	return usage.Aggregate(events, start, end), nil
}

// GetRecentRequests returns the most recent events for a tenant.
func (s *UsageStore) GetRecentRequests(ctx context.Context, tenantID string, limit int) ([]usage.Event, error) {
	return s.query(ctx, `
		SELECT id, key_id, tenant_id, request_id, outcome, error_code, pool,
			operations, original_bytes, optimized_bytes, latency_ms,
			sandbox, ip_address, user_agent, timestamp
		FROM usage_events
		WHERE tenant_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, tenantID, limit)
}

func (s *UsageStore) query(ctx context.Context, q string, args ...any) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		var outcome, pool, ops string
		if err := rows.Scan(
			&e.ID, &e.KeyID, &e.TenantID, &e.RequestID, &outcome,
			&e.ErrorCode, &pool, &ops, &e.OriginalBytes, &e.OptimizedBytes,
			&e.LatencyMs, &e.Sandbox, &e.IPAddress, &e.UserAgent, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Outcome = usage.Outcome(outcome)
		e.Pool = quota.Pool(pool)
		if err := json.Unmarshal([]byte(ops), &e.Operations); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
