package migrations

import (
	"io/fs"
	"strconv"
	"strings"
	"testing"
)

func TestFS_MigrationsAreNumberedFromOne(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}

	// Glob returns names sorted, so versions must count up without gaps.
	for i, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			t.Errorf("%s: missing version prefix", name)
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v != i+1 {
			t.Errorf("%s: version %q, want %d", name, prefix, i+1)
		}
	}
}

func TestFS_EveryMigrationIsReversible(t *testing.T) {
	names, _ := fs.Glob(FS, "*.sql")
	for _, name := range names {
		content, err := fs.ReadFile(FS, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		up := strings.Index(string(content), "-- +goose Up")
		down := strings.Index(string(content), "-- +goose Down")
		if up < 0 || down < 0 || down < up {
			t.Errorf("%s: want an Up section followed by a Down section", name)
		}
	}
}

func TestFS_InitialSchemaCreatesSyncTables(t *testing.T) {
	content, err := fs.ReadFile(FS, "001_initial_schema.sql")
	if err != nil {
		t.Fatal(err)
	}
	up, down, _ := strings.Cut(string(content), "-- +goose Down")
	for _, table := range []string{"entities", "change_log", "sync_meta", "push_idempotency"} {
		if !strings.Contains(up, "CREATE TABLE "+table) {
			t.Errorf("Up does not create %s", table)
		}
		if !strings.Contains(down, "DROP TABLE "+table) {
			t.Errorf("Down does not drop %s", table)
		}
	}
}
