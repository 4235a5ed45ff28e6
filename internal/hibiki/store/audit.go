package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bdobrica/Hibiki/common/redact"
)

// Audit results.
const (
	AuditSuccess = "success"
	AuditError   = "error"
	AuditDenied  = "denied"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	TraceID      string
	Actor        string
	Action       string
	Target       string
	Payload      map[string]any
	Result       string
	ErrorMessage string
}

// WriteAudit records an action taken on behalf of actor. Payload values under
// secret-looking keys are stored redacted.
func (s *Store) WriteAudit(ctx context.Context, e AuditEntry) error {
	var payload sql.NullString
	if e.Payload != nil {
		b, err := json.Marshal(redact.Map(e.Payload))
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, actor, action, target, payload_json, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UTC(), e.TraceID, e.Actor, e.Action, nullString(e.Target), payload, e.Result, nullString(e.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// GetAuditLog returns the most recent entries, newest first.
func (s *Store) GetAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryAudit(ctx, `
		SELECT id, ts, trace_id, actor, action, target, payload_json, result, error_message
		FROM audit_log
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
}

// GetAuditByTrace returns every entry for traceID in write order.
func (s *Store) GetAuditByTrace(ctx context.Context, traceID string) ([]*AuditEntry, error) {
	return s.queryAudit(ctx, `
		SELECT id, ts, trace_id, actor, action, target, payload_json, result, error_message
		FROM audit_log
		WHERE trace_id = ?
		ORDER BY ts ASC, id ASC
	`, traceID)
}

// PruneAudit deletes entries older than the cutoff.
func (s *Store) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE ts < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e                       AuditEntry
			target, payload, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TraceID, &e.Actor, &e.Action,
			&target, &payload, &e.Result, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Target = target.String
		e.ErrorMessage = errMsg.String
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit entry %d: bad payload: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
