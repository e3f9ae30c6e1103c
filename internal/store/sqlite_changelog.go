package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

const insertChangeLogSQL = `
	INSERT INTO change_log (entity_id, version, operation, origin, source_app, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// changeLogArgs returns the SQL arguments for inserting a ChangeLogEntry.
func changeLogArgs(e *types.ChangeLogEntry) []any {
	return []any{
		e.EntityID, e.Version, e.Operation, e.Origin, e.SourceApp,
		formatTime(e.CreatedAt),
	}
}

// ChangesAfter returns entries with sequence > afterSeq, up to limit.
func (s *SQLiteStore) ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]types.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, entity_id, version, operation, origin, source_app, created_at
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query change log: %w", ErrPersistence, err)
	}
	defer rows.Close()

	entries := make([]types.ChangeLogEntry, 0)
	for rows.Next() {
		var e types.ChangeLogEntry
		var createdAt string

		if err := rows.Scan(&e.Sequence, &e.EntityID, &e.Version, &e.Operation,
			&e.Origin, &e.SourceApp, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan change log entry: %w", ErrPersistence, err)
		}

		var parseErr error
		if e.CreatedAt, parseErr = parseTime(createdAt); parseErr != nil {
			slog.Warn("change_log: failed to parse created_at", "value", createdAt, "error", parseErr)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CompactChangeLog deletes entries created before cutoff that no longer
// matter to a push: entries superseded by a later entry for the same entity
// and entries whose entity was purged. The newest entry of the log is always
// kept so LatestSequence never moves backwards.
func (s *SQLiteStore) CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM change_log
		WHERE created_at < ?
		  AND sequence < (SELECT MAX(sequence) FROM change_log)
		  AND (
			sequence < (SELECT MAX(c.sequence) FROM change_log c WHERE c.entity_id = change_log.entity_id)
			OR entity_id NOT IN (SELECT id FROM entities)
		  )
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: compact change log: %w", ErrPersistence, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: compact change log: %w", ErrPersistence, err)
	}
	return n, nil
}

// LatestSequence returns the highest sequence number in the change log.
// Returns 0 if the change log is empty.
func (s *SQLiteStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM change_log`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: get latest sequence: %w", ErrPersistence, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// CheckPushIdempotency checks if a push_id has been processed.
// Returns the cached response and true if found, nil and false otherwise.
func (s *SQLiteStore) CheckPushIdempotency(ctx context.Context, pushID string) ([]byte, bool, error) {
	var response string
	var expiresAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT response, expires_at FROM push_idempotency WHERE push_id = ?
	`, pushID).Scan(&response, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: check idempotency: %w", ErrPersistence, err)
	}

	expires, parseErr := parseTime(expiresAt)
	if parseErr != nil {
		slog.Warn("push_idempotency: failed to parse expires_at", "value", expiresAt, "error", parseErr)
	}
	if time.Now().After(expires) {
		return nil, false, nil
	}

	return []byte(response), true, nil
}

// RecordPushIdempotency records a processed push for idempotency.
func (s *SQLiteStore) RecordPushIdempotency(ctx context.Context, pushID string, response []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO push_idempotency (push_id, response, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, pushID, string(response), formatTime(now), formatTime(now.Add(ttl)))
	if err != nil {
		return fmt.Errorf("%w: record push idempotency: %w", ErrPersistence, err)
	}
	return nil
}

// CleanExpiredIdempotency removes expired idempotency entries.
// Returns the number of entries removed.
func (s *SQLiteStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM push_idempotency WHERE expires_at < ?
	`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("%w: clean expired idempotency: %w", ErrPersistence, err)
	}
	return result.RowsAffected()
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: get sync meta: %w", ErrPersistence, err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set sync meta: %w", ErrPersistence, err)
	}
	return nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
