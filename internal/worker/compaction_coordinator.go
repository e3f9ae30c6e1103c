package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// CompactableDomain defines the operations required for change_log compaction.
// Implemented by engine.Engine.
type CompactableDomain interface {
	Domain() types.Domain
	// CompactChangeLog removes superseded entries older than retention.
	CompactChangeLog(ctx context.Context, retention time.Duration) (int64, error)
}

// CompactionDomainEnumerator provides access to every running domain.
type CompactionDomainEnumerator interface {
	CompactableDomains() []CompactableDomain
}

// CompactionCoordinator runs change_log compaction across all domains.
type CompactionCoordinator struct {
	domains   CompactionDomainEnumerator
	interval  time.Duration
	retention time.Duration
}

// NewCompactionCoordinator creates a compaction coordinator.
func NewCompactionCoordinator(
	domains CompactionDomainEnumerator,
	interval time.Duration,
	retention time.Duration,
) *CompactionCoordinator {
	return &CompactionCoordinator{
		domains:   domains,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// Like TombstoneCoordinator, this waits for the first ticker interval before
// processing.
func (c *CompactionCoordinator) Run(ctx context.Context) {
	slog.Info("compaction coordinator started",
		"component", "worker",
		"worker", "compaction-coordinator",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("compaction coordinator stopped",
				"component", "worker",
				"worker", "compaction-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.compactAll(ctx)
		}
	}
}

// compactAll runs compaction on each domain, continuing on individual failures.
func (c *CompactionCoordinator) compactAll(ctx context.Context) {
	domains := c.domains.CompactableDomains()

	var succeeded, failed, skipped int
	var totalDeleted int64

	for _, d := range domains {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}

		start := time.Now()
		deleted, err := d.CompactChangeLog(ctx, c.retention)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failed++
			slog.Error("compaction failed for domain",
				"component", "worker",
				"worker", "compaction-coordinator",
				"domain", string(d.Domain()),
				"error", err,
			)
			continue
		}
		if deleted == 0 {
			skipped++
			continue
		}
		succeeded++
		totalDeleted += deleted
		slog.Info("compaction completed for domain",
			"component", "worker",
			"worker", "compaction-coordinator",
			"domain", string(d.Domain()),
			"entries_deleted", deleted,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("compaction cycle completed",
			"component", "worker",
			"worker", "compaction-coordinator",
			"domains_total", len(domains),
			"domains_succeeded", succeeded,
			"domains_failed", failed,
			"domains_skipped", skipped,
			"entries_deleted", totalDeleted,
		)
	}
}
