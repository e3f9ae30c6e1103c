package store

import (
	"context"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// Write is one entity revision to persist together with the reason it is
// being written.
type Write struct {
	Entity types.Entity
	Origin string // types.OriginLocal, OriginRemote or OriginCascade
}

// Store persists the entities of one domain.
type Store interface {
	// Get returns the stored revision of id, tombstones included.
	Get(ctx context.Context, id string) (*types.Entity, error)

	// List returns every live entity ordered by id.
	List(ctx context.Context) ([]types.Entity, error)

	// Snapshot returns every entity including tombstones.
	Snapshot(ctx context.Context) ([]types.Entity, error)

	// Apply persists writes atomically. Every write must supersede the
	// stored revision of its id, otherwise nothing is written and
	// ErrStaleWrite is returned. Returns the highest change-log sequence.
	Apply(ctx context.Context, writes ...Write) (int64, error)

	// ChangesAfter returns change-log entries with sequence > afterSeq.
	ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]types.ChangeLogEntry, error)

	// LatestSequence returns the highest change-log sequence, or 0.
	LatestSequence(ctx context.Context) (int64, error)

	// PurgeTombstones hard-deletes tombstones last modified before cutoff.
	PurgeTombstones(ctx context.Context, cutoff time.Time) (int64, error)

	// CompactChangeLog drops change-log entries created before cutoff that
	// are superseded or point at purged entities.
	CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error)

	GetSyncMeta(ctx context.Context, key string) (string, error)
	SetSyncMeta(ctx context.Context, key, value string) error

	// CheckPushIdempotency returns the cached response of a processed push.
	CheckPushIdempotency(ctx context.Context, pushID string) ([]byte, bool, error)
	RecordPushIdempotency(ctx context.Context, pushID string, response []byte, ttl time.Duration) error
	CleanExpiredIdempotency(ctx context.Context) (int64, error)

	Stats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
