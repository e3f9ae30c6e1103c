package multistore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hyperengineering/peersync/internal/store"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
)

const (
	dbFileName   = "peersync.db"
	metaFileName = "meta.yaml"
)

// ErrDomainMismatch indicates a store directory holds another domain's data.
var ErrDomainMismatch = errors.New("store belongs to another domain")

// ManagedStore is an open domain store together with its meta.yaml.
type ManagedStore struct {
	Domain   types.Domain
	Store    store.Store
	Meta     *StoreMeta
	BasePath string

	mu        sync.Mutex
	metaDirty bool
}

// NewManagedStore opens the store of domain d in basePath, which must hold
// a meta.yaml for d. The schema version is refreshed in the metadata.
func NewManagedStore(ctx context.Context, d types.Domain, basePath string) (*ManagedStore, error) {
	meta, err := LoadStoreMeta(filepath.Join(basePath, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("load store metadata: %w", err)
	}
	if meta.Domain != d {
		return nil, fmt.Errorf("%s holds %s: %w", basePath, meta.Domain, ErrDomainMismatch)
	}

	sqliteStore, err := store.NewSQLiteStore(filepath.Join(basePath, dbFileName), d)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	m := &ManagedStore{
		Domain:   d,
		Store:    sqliteStore,
		Meta:     meta,
		BasePath: basePath,
	}
	if v := m.SchemaVersion(ctx); v != meta.SchemaVersion {
		if meta.SchemaVersion != 0 {
			slog.Info("store schema upgraded",
				"component", "multistore",
				"domain", string(d),
				"from", meta.SchemaVersion,
				"to", v,
			)
		}
		meta.SchemaVersion = v
		m.metaDirty = true
	}
	return m, nil
}

// TouchAccessed records an access. The metadata file is only rewritten by
// FlushMeta.
func (m *ManagedStore) TouchAccessed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Meta.LastAccessed = time.Now().UTC()
	m.metaDirty = true
}

// FlushMeta writes pending metadata changes to meta.yaml.
func (m *ManagedStore) FlushMeta() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.metaDirty {
		return nil
	}
	if err := SaveStoreMeta(filepath.Join(m.BasePath, metaFileName), m.Meta); err != nil {
		return err
	}
	m.metaDirty = false
	return nil
}

// Close flushes metadata and closes the database. A failed flush is only
// logged; the database is closed regardless.
func (m *ManagedStore) Close() error {
	if err := m.FlushMeta(); err != nil {
		slog.Warn("failed to flush store metadata",
			"component", "multistore",
			"domain", string(m.Domain),
			"error", err,
		)
	}
	return m.Store.Close()
}

// SchemaVersion returns the schema version recorded in the database, or 0
// when it cannot be read.
func (m *ManagedStore) SchemaVersion(ctx context.Context) int {
	version, err := m.Store.GetSyncMeta(ctx, peersync.SyncMetaSchemaVersion)
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(version)
	return v
}
