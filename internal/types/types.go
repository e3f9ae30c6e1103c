package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Domain names one category of synchronized data.
type Domain string

const (
	DomainTheme          Domain = "theme"
	DomainLanguage       Domain = "language"
	DomainProfile        Domain = "profile"
	DomainHistory        Domain = "history"
	DomainBookmark       Domain = "bookmark"
	DomainRSS            Domain = "rss"
	DomainPreferences    Domain = "preferences"
	DomainTorrentSharing Domain = "torrent_sharing"
)

// AllDomains returns every domain in start order.
func AllDomains() []Domain {
	return []Domain{
		DomainTheme,
		DomainLanguage,
		DomainProfile,
		DomainHistory,
		DomainBookmark,
		DomainRSS,
		DomainPreferences,
		DomainTorrentSharing,
	}
}

// IsValidDomain reports whether d is a known domain.
func IsValidDomain(d string) bool {
	for _, known := range AllDomains() {
		if string(known) == d {
			return true
		}
	}
	return false
}

// ParseDomain converts a string into a Domain.
func ParseDomain(s string) (Domain, error) {
	if !IsValidDomain(s) {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return Domain(s), nil
}

// Entity is the synchronized unit of every domain. The payload carries the
// domain-specific fields; everything else is sync metadata.
type Entity struct {
	ID           string          `json:"id"`
	Domain       Domain          `json:"domain"`
	Version      int64           `json:"version"`
	LastModified time.Time       `json:"last_modified"`
	SourceApp    string          `json:"source_app"`
	ClientType   string          `json:"client_type,omitempty"`
	Deleted      bool            `json:"deleted,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Supersedes reports whether e is ordered after other for the same ID:
// higher version first, then later LastModified, then greater SourceApp.
func (e Entity) Supersedes(other Entity) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	if !e.LastModified.Equal(other.LastModified) {
		return e.LastModified.After(other.LastModified)
	}
	return e.SourceApp > other.SourceApp
}

// SameRevision reports whether both entities carry the same version stamp.
func (e Entity) SameRevision(other Entity) bool {
	return e.ID == other.ID &&
		e.Version == other.Version &&
		e.LastModified.Equal(other.LastModified) &&
		e.SourceApp == other.SourceApp
}

// Identity describes one application instance serving one domain.
type Identity struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	Domain     Domain `json:"domain"`
	Port       int    `json:"port"`
}

// ChangeLogEntry records one accepted write to an entity table.
type ChangeLogEntry struct {
	Sequence  int64     `json:"sequence"`
	EntityID  string    `json:"entity_id"`
	Version   int64     `json:"version"`
	Operation string    `json:"operation"` // "upsert" or "delete"
	Origin    string    `json:"origin"`    // "local", "remote" or "cascade"
	SourceApp string    `json:"source_app"`
	CreatedAt time.Time `json:"created_at"`
}

// Operation constants
const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Origin constants
const (
	OriginLocal   = "local"
	OriginRemote  = "remote"
	OriginCascade = "cascade"
)

// OperationFor returns the change-log operation describing e.
func OperationFor(e Entity) string {
	if e.Deleted {
		return OperationDelete
	}
	return OperationUpsert
}

// StoreStats holds aggregate statistics for one domain table.
type StoreStats struct {
	LiveCount      int64 `json:"live_count"`
	TombstoneCount int64 `json:"tombstone_count"`
	LatestSequence int64 `json:"latest_sequence"`
}
