package multistore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperengineering/peersync/internal/types"
)

// ErrUnknownDomain indicates a store was requested for a domain that does
// not exist.
var ErrUnknownDomain = errors.New("unknown domain")

// StoreManager owns one store per domain under a shared root directory.
// Stores are opened lazily on first use.
type StoreManager struct {
	rootPath string

	mu     sync.RWMutex
	stores map[types.Domain]*ManagedStore
}

// NewStoreManager creates a manager with the given root path.
// Creates the root directory if it doesn't exist.
func NewStoreManager(rootPath string) (*StoreManager, error) {
	expanded, err := ExpandHome(rootPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(expanded, 0755); err != nil {
		return nil, fmt.Errorf("create stores root directory: %w", err)
	}

	return &StoreManager{
		rootPath: expanded,
		stores:   make(map[types.Domain]*ManagedStore),
	}, nil
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// RootPath returns the expanded root directory.
func (m *StoreManager) RootPath() string {
	return m.rootPath
}

// GetStore returns the store of domain d, creating it on first use.
func (m *StoreManager) GetStore(ctx context.Context, d types.Domain) (*ManagedStore, error) {
	if !types.IsValidDomain(string(d)) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}

	// Fast path: check if already loaded
	m.mu.RLock()
	if managed, ok := m.stores[d]; ok {
		m.mu.RUnlock()
		managed.TouchAccessed()
		return managed, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if managed, ok := m.stores[d]; ok {
		managed.TouchAccessed()
		return managed, nil
	}

	storePath := m.storePath(d)
	if _, err := os.Stat(filepath.Join(storePath, metaFileName)); os.IsNotExist(err) {
		if err := m.createStoreDir(d); err != nil {
			return nil, err
		}
		slog.Info("store created",
			"component", "multistore",
			"action", "store_created",
			"domain", string(d),
		)
	}

	managed, err := NewManagedStore(ctx, d, storePath)
	if err != nil {
		return nil, fmt.Errorf("load store %q: %w", d, err)
	}

	m.stores[d] = managed

	slog.Debug("store loaded",
		"component", "multistore",
		"action", "store_loaded",
		"domain", string(d),
	)

	managed.TouchAccessed()
	return managed, nil
}

// DeleteStore closes the store of domain d and removes its data. The next
// GetStore recreates it empty.
func (m *StoreManager) DeleteStore(ctx context.Context, d types.Domain) error {
	if !types.IsValidDomain(string(d)) {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, ok := m.stores[d]; ok {
		if err := managed.Close(); err != nil {
			slog.Warn("error closing store before deletion",
				"domain", string(d), "error", err)
		}
		delete(m.stores, d)
	}

	if err := os.RemoveAll(m.storePath(d)); err != nil {
		return fmt.Errorf("remove store directory: %w", err)
	}

	slog.Info("store deleted",
		"component", "multistore",
		"action", "store_deleted",
		"domain", string(d),
	)

	return nil
}

// ListStores returns metadata for every domain store that exists on disk.
func (m *StoreManager) ListStores(ctx context.Context) ([]StoreInfo, error) {
	entries, err := os.ReadDir(m.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read stores directory: %w", err)
	}

	var result []StoreInfo
	for _, entry := range entries {
		if !entry.IsDir() || !types.IsValidDomain(entry.Name()) {
			continue
		}

		info, err := m.getStoreInfo(types.Domain(entry.Name()))
		if err != nil {
			slog.Warn("error scanning store directory",
				"path", entry.Name(), "error", err)
			continue
		}
		result = append(result, info)
	}

	return result, nil
}

// getStoreInfo collects information about a single store.
func (m *StoreManager) getStoreInfo(d types.Domain) (StoreInfo, error) {
	basePath := m.storePath(d)
	meta, err := LoadStoreMeta(filepath.Join(basePath, metaFileName))
	if err != nil {
		return StoreInfo{}, err
	}

	var sizeBytes int64
	if info, err := os.Stat(filepath.Join(basePath, dbFileName)); err == nil {
		sizeBytes = info.Size()
	}

	return StoreInfo{
		Domain:        d,
		Created:       meta.Created,
		LastAccessed:  meta.LastAccessed,
		SchemaVersion: meta.SchemaVersion,
		SizeBytes:     sizeBytes,
	}, nil
}

// storePath returns the filesystem path for a domain store.
func (m *StoreManager) storePath(d types.Domain) string {
	return filepath.Join(m.rootPath, string(d))
}

// createStoreDir creates a new store directory with metadata.
func (m *StoreManager) createStoreDir(d types.Domain) error {
	storePath := m.storePath(d)

	if err := os.MkdirAll(storePath, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	if err := SaveStoreMeta(filepath.Join(storePath, metaFileName), NewStoreMeta(d)); err != nil {
		os.RemoveAll(storePath)
		return fmt.Errorf("write store metadata: %w", err)
	}

	return nil
}

// Close closes all loaded stores.
func (m *StoreManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for d, managed := range m.stores {
		if err := managed.Close(); err != nil {
			slog.Error("error closing store", "domain", string(d), "error", err)
			lastErr = err
		}
	}
	m.stores = make(map[types.Domain]*ManagedStore)

	return lastErr
}
