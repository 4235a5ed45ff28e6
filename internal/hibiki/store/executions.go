package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit bounds ListExecutions when no limit is given.
const DefaultListLimit = 50

// Execution is one persisted command and its assembled result.
type Execution struct {
	ID        string
	SessionID string
	UserID    string
	Command   string
	Raw       string
	Args      []string
	TraceID   string
	CommandID string
	State     string
	// Result is the JSON encoded result, in clear text.
	Result      []byte
	StartedAt   time.Time
	CompletedAt time.Time
}

// History is the execution history backend.
type History interface {
	SaveExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error)
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)
	CountExecutions(ctx context.Context) (int64, error)
	Close() error
}

// SaveExecution stores e, replacing any row with the same ID.
func (s *Store) SaveExecution(ctx context.Context, e *Execution) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	result, err := s.sealer.Seal(e.Result, []byte(e.ID))
	if err != nil {
		return fmt.Errorf("failed to seal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(id, session_id, user_id, command, raw, args_json, trace_id, command_id, state,
			 result, result_sealed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, e.UserID, e.Command, e.Raw, string(args), e.TraceID,
		nullString(e.CommandID), e.State, result, s.sealer.Enabled(),
		e.StartedAt.UTC(), e.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", e.ID, err)
	}
	return nil
}

const executionColumns = `id, session_id, user_id, command, raw, args_json, trace_id, command_id, state,
	result, result_sealed, started_at, completed_at`

// GetExecution returns the execution with the given ID or ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := s.scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListExecutions returns the most recent executions of userID, newest first.
func (s *Store) ListExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return out, nil
}

// PruneExecutions deletes executions completed before the cutoff and
// returns how many were removed.
func (s *Store) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE completed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return res.RowsAffected()
}

// CountExecutions returns the number of stored executions.
func (s *Store) CountExecutions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanExecution(row rowScanner) (*Execution, error) {
	var (
		e         Execution
		args      string
		commandID sql.NullString
		result    []byte
		sealed    bool
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Command, &e.Raw, &args, &e.TraceID,
		&commandID, &e.State, &result, &sealed, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
		return nil, fmt.Errorf("execution %s: bad args: %w", e.ID, err)
	}
	e.CommandID = commandID.String
	if e.Result, err = s.sealer.Open(result, sealed, []byte(e.ID)); err != nil {
		return nil, fmt.Errorf("execution %s: failed to open result: %w", e.ID, err)
	}
	return &e, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
