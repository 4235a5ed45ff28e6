// Package pgstore keeps execution history in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdobrica/Hibiki/common/crypto"
	"github.com/bdobrica/Hibiki/internal/hibiki/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    command       TEXT NOT NULL,
    raw           TEXT NOT NULL,
    args          JSONB NOT NULL DEFAULT '[]',
    trace_id      TEXT NOT NULL,
    command_id    TEXT NOT NULL DEFAULT '',
    state         TEXT NOT NULL,
    result        BYTEA,
    result_sealed BOOLEAN NOT NULL DEFAULT FALSE,
    started_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_user ON executions (user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_completed ON executions (completed_at);
`

// Store implements store.History on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	sealer *crypto.Sealer
}

var _ store.History = (*Store)(nil)

// Open connects to dsn, verifies the connection and creates the schema.
// sealer may be nil.
func Open(ctx context.Context, dsn string, sealer *crypto.Sealer) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: schema: %w", err)
	}
	if sealer == nil {
		sealer, _ = crypto.NewSealer(nil)
	}
	return &Store{pool: pool, sealer: sealer}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SaveExecution upserts e.
func (s *Store) SaveExecution(ctx context.Context, e *store.Execution) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("pgstore: marshal args: %w", err)
	}
	result, err := s.sealer.Seal(e.Result, []byte(e.ID))
	if err != nil {
		return fmt.Errorf("pgstore: seal result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions
			(id, session_id, user_id, command, raw, args, trace_id, command_id, state,
			 result, result_sealed, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			command_id = EXCLUDED.command_id,
			result = EXCLUDED.result,
			result_sealed = EXCLUDED.result_sealed,
			completed_at = EXCLUDED.completed_at
	`, e.ID, e.SessionID, e.UserID, e.Command, e.Raw, args, e.TraceID, e.CommandID, e.State,
		result, s.sealer.Enabled(), e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save execution %s: %w", e.ID, err)
	}
	return nil
}

const columns = `id, session_id, user_id, command, raw, args, trace_id, command_id, state,
	result, result_sealed, started_at, completed_at`

// GetExecution returns one execution or store.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	e, err := s.scan(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM executions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	return e, err
}

// ListExecutions returns userID's latest executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, userID string, limit int) ([]*store.Execution, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+` FROM executions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list executions: %w", err)
	}
	defer rows.Close()

	var out []*store.Execution
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneExecutions deletes executions completed before the cutoff.
func (s *Store) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pgstore: prune executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountExecutions returns the number of stored executions.
func (s *Store) CountExecutions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count executions: %w", err)
	}
	return n, nil
}

func (s *Store) scan(row pgx.Row) (*store.Execution, error) {
	var (
		e      store.Execution
		args   []byte
		result []byte
		sealed bool
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Command, &e.Raw, &args, &e.TraceID,
		&e.CommandID, &e.State, &result, &sealed, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("pgstore: scan execution: %w", err)
	}
	if err := json.Unmarshal(args, &e.Args); err != nil {
		return nil, fmt.Errorf("pgstore: execution %s: bad args: %w", e.ID, err)
	}
	if e.Result, err = s.sealer.Open(result, sealed, []byte(e.ID)); err != nil {
		return nil, fmt.Errorf("pgstore: execution %s: open result: %w", e.ID, err)
	}
	return &e, nil
}
