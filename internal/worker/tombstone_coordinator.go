package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// TombstoneCapableDomain defines the operations required for tombstone GC.
// Implemented by engine.Engine.
type TombstoneCapableDomain interface {
	Domain() types.Domain
	PurgeTombstones(ctx context.Context, retention time.Duration) (int64, error)
}

// TombstoneDomainEnumerator provides access to every running domain.
// This abstraction allows testing with mock domains while production uses
// the host's engines.
type TombstoneDomainEnumerator interface {
	TombstoneDomains() []TombstoneCapableDomain
}

// TombstoneCoordinator purges expired tombstones across all domains.
type TombstoneCoordinator struct {
	domains   TombstoneDomainEnumerator
	interval  time.Duration
	retention time.Duration
}

// NewTombstoneCoordinator creates a coordinator that purges tombstones
// older than retention every interval.
func NewTombstoneCoordinator(
	domains TombstoneDomainEnumerator,
	interval time.Duration,
	retention time.Duration,
) *TombstoneCoordinator {
	return &TombstoneCoordinator{
		domains:   domains,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// The first purge happens after one interval; startup is busy with
// discovery and snapshot pulls.
func (c *TombstoneCoordinator) Run(ctx context.Context) {
	slog.Info("tombstone coordinator started",
		"component", "worker",
		"worker", "tombstone-coordinator",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("tombstone coordinator stopped",
				"component", "worker",
				"worker", "tombstone-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.purgeAll(ctx)
		}
	}
}

// purgeAll purges each domain, continuing on individual failures.
func (c *TombstoneCoordinator) purgeAll(ctx context.Context) {
	var succeeded, failed int
	var purged int64
	domains := c.domains.TombstoneDomains()
	for _, d := range domains {
		if ctx.Err() != nil {
			return
		}
		n, ok := c.purgeDomain(ctx, d)
		if !ok {
			failed++
			continue
		}
		succeeded++
		purged += n
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("tombstone cycle completed",
			"component", "worker",
			"worker", "tombstone-coordinator",
			"domains_total", len(domains),
			"domains_succeeded", succeeded,
			"domains_failed", failed,
			"purged", purged,
		)
	}
}

func (c *TombstoneCoordinator) purgeDomain(ctx context.Context, d TombstoneCapableDomain) (int64, bool) {
	start := time.Now()
	n, err := d.PurgeTombstones(ctx, c.retention)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		slog.Error("tombstone purge failed",
			"component", "worker",
			"worker", "tombstone-coordinator",
			"domain", string(d.Domain()),
			"error", err,
		)
		return 0, false
	}

	if n > 0 {
		slog.Info("tombstones purged",
			"component", "worker",
			"worker", "tombstone-coordinator",
			"domain", string(d.Domain()),
			"purged", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n, true
}
