// Package sync defines the peer-to-peer wire messages exchanged between
// engines of the same domain.
package sync

import (
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// PushRequest carries locally accepted entities to one peer.
type PushRequest struct {
	PushID   string         `json:"push_id"`
	Source   types.Identity `json:"source"`
	Entities []types.Entity `json:"entities"`
}

// PushResponse reports how each pushed entity was handled.
type PushResponse struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Rejection names an entity the receiver kept its own copy of.
type Rejection struct {
	EntityID string `json:"entity_id"`
	Version  int64  `json:"version"`
	Reason   string `json:"reason"`
}

// SnapshotResponse is the full table of one domain, tombstones included.
type SnapshotResponse struct {
	Identity types.Identity `json:"identity"`
	Entities []types.Entity `json:"entities"`
	TakenAt  time.Time      `json:"taken_at"`
}

// HealthResponse is served on the health route.
type HealthResponse struct {
	Status  string   `json:"status"`
	AppID   string   `json:"app_id"`
	Domains []string `json:"domains"`
}

// PushIdempotencyEntry tracks a processed push for idempotency.
type PushIdempotencyEntry struct {
	PushID    string    `json:"push_id"`
	Response  string    `json:"response"` // JSON-encoded PushResponse
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SyncMeta keys
const (
	SyncMetaSchemaVersion     = "schema_version"
	SyncMetaLastTombstoneGC   = "last_tombstone_gc_at"
	SyncMetaLastCompactionSeq = "last_compaction_seq"
	SyncMetaLastCompactionAt  = "last_compaction_at"

	// SyncMetaPeerCursorPrefix prefixes the change-log sequence last pushed
	// to a peer. The full key is the prefix followed by the peer's app id.
	SyncMetaPeerCursorPrefix = "peer_cursor:"
)

// PeerCursorKey returns the sync_meta key tracking what appID has received.
func PeerCursorKey(appID string) string {
	return SyncMetaPeerCursorPrefix + appID
}
