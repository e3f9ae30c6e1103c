package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/peersync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations brings the schema of db up to date with the embedded
// migrations and returns the number of migrations applied.
//
// A goose Provider is used instead of the package-level API so the eight
// domain stores of a process can be opened concurrently.
func RunMigrations(ctx context.Context, db *sql.DB) (int, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("migration applied",
			"component", "store",
			"version", r.Source.Version,
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
	return len(results), nil
}
