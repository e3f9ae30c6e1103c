package multistore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"gopkg.in/yaml.v3"
)

// StoreMeta is the content of a store's meta.yaml.
type StoreMeta struct {
	Domain       types.Domain `yaml:"domain"`
	Created      time.Time    `yaml:"created"`
	LastAccessed time.Time    `yaml:"last_accessed"`
	// SchemaVersion is the migration version seen when the store was last
	// opened. Zero until the database has been opened once.
	SchemaVersion int `yaml:"schema_version,omitempty"`
}

// StoreInfo summarizes a store on disk without opening its database.
type StoreInfo struct {
	Domain        types.Domain `json:"domain"`
	Created       time.Time    `json:"created"`
	LastAccessed  time.Time    `json:"last_accessed"`
	SchemaVersion int          `json:"schema_version"`
	SizeBytes     int64        `json:"size_bytes"`
}

// NewStoreMeta returns the metadata of a store created now.
func NewStoreMeta(d types.Domain) *StoreMeta {
	now := time.Now().UTC()
	return &StoreMeta{
		Domain:       d,
		Created:      now,
		LastAccessed: now,
	}
}

// LoadStoreMeta reads the meta.yaml at path.
func LoadStoreMeta(path string) (*StoreMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta StoreMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if !types.IsValidDomain(string(meta.Domain)) {
		return nil, fmt.Errorf("%s: %w: %q", filepath.Base(path), ErrUnknownDomain, meta.Domain)
	}
	return &meta, nil
}

// SaveStoreMeta writes meta to path. The file is replaced atomically so a
// crash never leaves a truncated meta.yaml behind.
func SaveStoreMeta(path string, meta *StoreMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal store metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*.yaml")
	if err != nil {
		return fmt.Errorf("write store metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write store metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write store metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write store metadata: %w", err)
	}
	return nil
}
