package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// SQLiteStore is the SQLite-backed entity table of one domain.
type SQLiteStore struct {
	db     *sql.DB
	domain types.Domain
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dbPath for domain d.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string, d types.Domain) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrPersistence, err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable pragmas: %w", ErrPersistence, err)
	}

	if _, err := RunMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &SQLiteStore{db: db, domain: d}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const entityColumns = `id, version, last_modified, source_app, client_type, deleted, payload`

func (s *SQLiteStore) scanEntity(scanner interface{ Scan(...any) error }) (*types.Entity, error) {
	var (
		e            types.Entity
		lastModified string
		deleted      int
		payload      sql.NullString
	)
	if err := scanner.Scan(&e.ID, &e.Version, &lastModified, &e.SourceApp, &e.ClientType, &deleted, &payload); err != nil {
		return nil, err
	}
	t, err := parseTime(lastModified)
	if err != nil {
		return nil, fmt.Errorf("parse last_modified of %s: %w", e.ID, err)
	}
	e.LastModified = t
	e.Domain = s.domain
	e.Deleted = deleted != 0
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	return &e, nil
}

// Get returns the stored revision of id, tombstones included.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := s.scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", s.domain, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get entity: %w", ErrPersistence, err)
	}
	return e, nil
}

// List returns every live entity ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]types.Entity, error) {
	return s.query(ctx, `SELECT `+entityColumns+` FROM entities WHERE deleted = 0 ORDER BY id`)
}

// Snapshot returns every entity including tombstones.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]types.Entity, error) {
	return s.query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query entities: %w", ErrPersistence, err)
	}
	defer rows.Close()

	entities := make([]types.Entity, 0)
	for rows.Next() {
		e, err := s.scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entity: %w", ErrPersistence, err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate entities: %w", ErrPersistence, err)
	}
	return entities, nil
}

const upsertEntitySQL = `
	INSERT INTO entities (id, version, last_modified, source_app, client_type, deleted, payload, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		version = excluded.version,
		last_modified = excluded.last_modified,
		source_app = excluded.source_app,
		client_type = excluded.client_type,
		deleted = excluded.deleted,
		payload = excluded.payload,
		updated_at = excluded.updated_at`

// Apply persists writes atomically and appends one change-log entry per write.
func (s *SQLiteStore) Apply(ctx context.Context, writes ...Write) (int64, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var highestSeq int64
	for _, w := range writes {
		e := w.Entity

		current, err := s.scanEntity(tx.QueryRowContext(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE id = ?`, e.ID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return 0, fmt.Errorf("%w: read current %s: %w", ErrPersistence, e.ID, err)
		case !e.Supersedes(*current):
			return 0, fmt.Errorf("%s/%s v%d does not supersede v%d: %w",
				s.domain, e.ID, e.Version, current.Version, ErrStaleWrite)
		}

		deleted := 0
		if e.Deleted {
			deleted = 1
		}
		if _, err := tx.ExecContext(ctx, upsertEntitySQL,
			e.ID, e.Version, formatTime(e.LastModified), e.SourceApp, e.ClientType,
			deleted, nullablePayload(e.Payload), formatTime(now)); err != nil {
			return 0, fmt.Errorf("%w: upsert %s: %w", ErrPersistence, e.ID, err)
		}

		entry := types.ChangeLogEntry{
			EntityID:  e.ID,
			Version:   e.Version,
			Operation: types.OperationFor(e),
			Origin:    w.Origin,
			SourceApp: e.SourceApp,
			CreatedAt: now,
		}
		result, err := tx.ExecContext(ctx, insertChangeLogSQL, changeLogArgs(&entry)...)
		if err != nil {
			return 0, fmt.Errorf("%w: append change log for %s: %w", ErrPersistence, e.ID, err)
		}
		highestSeq, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("%w: get last insert id: %w", ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}
	return highestSeq, nil
}

// PurgeTombstones hard-deletes tombstones last modified before cutoff.
func (s *SQLiteStore) PurgeTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE deleted = 1 AND last_modified < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: purge tombstones: %w", ErrPersistence, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge tombstones: %w", ErrPersistence, err)
	}
	if n > 0 {
		slog.Debug("tombstones purged",
			"component", "store",
			"domain", string(s.domain),
			"count", n,
		)
	}
	return n, nil
}

// Stats returns aggregate counts for the domain table.
func (s *SQLiteStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
		FROM entities
	`).Scan(&stats.LiveCount, &stats.TombstoneCount)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", ErrPersistence, err)
	}
	seq, err := s.LatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestSequence = seq
	return &stats, nil
}
