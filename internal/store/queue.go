package store

import (
	"context"
	"database/sql"
	"time"

	"payvault/internal/models"
)

// AppendOperation persists a new queue entry and fills in the assigned id.
// Ids are monotonically increasing and never reused.
func (s *Store) AppendOperation(ctx context.Context, op *models.SyncOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	query := `INSERT INTO sync_queue (entity_type, action, payload, dedup_key, synced, synced_at, attempts, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		op.EntityType, op.Action, op.Payload, op.DedupKey,
		op.Synced, op.SyncedAt, op.Attempts, op.LastError, op.CreatedAt,
	)
	if err != nil {
		return storageErr("append", ContainerQueue, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("append", ContainerQueue, err)
	}
	op.ID = id
	return nil
}

// UpdateOperation rewrites the mutable fields of an entry in a single
// statement. Payload is included so placeholder-id substitution survives a
// crash between passes.
func (s *Store) UpdateOperation(ctx context.Context, op *models.SyncOperation) error {
	query := `UPDATE sync_queue SET payload = ?, synced = ?, synced_at = ?, attempts = ?, last_error = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, op.Payload, op.Synced, op.SyncedAt, op.Attempts, op.LastError, op.ID)
	return storageErr("update", ContainerQueue, err)
}

// GetOperation returns (nil, nil) when the id is not queued.
func (s *Store) GetOperation(ctx context.Context, id int64) (*models.SyncOperation, error) {
	query := `SELECT id, entity_type, action, payload, dedup_key, synced, synced_at, attempts, last_error, created_at
              FROM sync_queue WHERE id = ?`

	var op models.SyncOperation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&op.ID, &op.EntityType, &op.Action, &op.Payload, &op.DedupKey,
		&op.Synced, &op.SyncedAt, &op.Attempts, &op.LastError, &op.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", ContainerQueue, err)
	}
	return &op, nil
}

// UnsyncedOperations returns every entry with synced=false. Ordering is the
// caller's responsibility.
func (s *Store) UnsyncedOperations(ctx context.Context) ([]models.SyncOperation, error) {
	return s.queryOperations(ctx, `WHERE synced = 0`)
}

// SyncedOperations returns confirmed entries, oldest first.
func (s *Store) SyncedOperations(ctx context.Context) ([]models.SyncOperation, error) {
	return s.queryOperations(ctx, `WHERE synced = 1 ORDER BY synced_at ASC`)
}

func (s *Store) queryOperations(ctx context.Context, where string, args ...interface{}) ([]models.SyncOperation, error) {
	query := `SELECT id, entity_type, action, payload, dedup_key, synced, synced_at, attempts, last_error, created_at
              FROM sync_queue ` + where

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", ContainerQueue, err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		var op models.SyncOperation
		err := rows.Scan(
			&op.ID, &op.EntityType, &op.Action, &op.Payload, &op.DedupKey,
			&op.Synced, &op.SyncedAt, &op.Attempts, &op.LastError, &op.CreatedAt,
		)
		if err != nil {
			return nil, storageErr("scan", ContainerQueue, err)
		}
		ops = append(ops, op)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("query", ContainerQueue, err)
	}
	return ops, nil
}

// PendingCount counts entries with synced=false.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, storageErr("count", ContainerQueue, err)
	}
	return count, nil
}

// DeleteOperation removes an entry; no-op if absent.
func (s *Store) DeleteOperation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	return storageErr("delete", ContainerQueue, err)
}

// PurgeSynced removes confirmed entries whose synced_at is before the cutoff.
// Unsynced entries are never purged by age.
func (s *Store) PurgeSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE synced = 1 AND synced_at IS NOT NULL AND synced_at < ?`, cutoff)
	if err != nil {
		return 0, storageErr("purge", ContainerQueue, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("purge", ContainerQueue, err)
	}
	return n, nil
}
