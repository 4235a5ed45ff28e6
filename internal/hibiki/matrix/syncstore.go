package matrix

import (
	"context"
	"database/sql"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*dbSyncStore)(nil)

// dbSyncStore keeps the filter ID and next_batch token in the
// matrix_sync_state table so a restart resumes where the last sync stopped
// instead of replaying bot replies that were already routed.
type dbSyncStore struct {
	db *sql.DB
}

func newDBSyncStore(db *sql.DB) *dbSyncStore {
	return &dbSyncStore{db: db}
}

func (s *dbSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, "filter_id", filterID)
}

func (s *dbSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "filter_id")
}

func (s *dbSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, token string) error {
	return s.save(ctx, userID, "next_batch", token)
}

func (s *dbSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "next_batch")
}

func (s *dbSyncStore) save(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID.String(), key, value)
	return err
}

// load returns ("", nil) for a missing key.
func (s *dbSyncStore) load(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID.String(), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
