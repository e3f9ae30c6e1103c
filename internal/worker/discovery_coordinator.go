package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// DiscoverableDomain represents a domain that can rescan for peers.
type DiscoverableDomain interface {
	Domain() types.Domain
	Discover(ctx context.Context) error
}

// DiscoveryDomainEnumerator provides access to every running domain.
type DiscoveryDomainEnumerator interface {
	DiscoverableDomains() []DiscoverableDomain
}

// DiscoveryCoordinator periodically rescans every domain's port window so
// peers that started later, or came back, are caught up.
type DiscoveryCoordinator struct {
	domains  DiscoveryDomainEnumerator
	interval time.Duration
}

// NewDiscoveryCoordinator creates a coordinator rescanning every interval.
func NewDiscoveryCoordinator(domains DiscoveryDomainEnumerator, interval time.Duration) *DiscoveryCoordinator {
	return &DiscoveryCoordinator{
		domains:  domains,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *DiscoveryCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "discovery-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "discovery-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.discoverAll(ctx)
		}
	}
}

// discoverAll rescans each domain in turn. Domains are scanned one after
// another to keep the number of probe connections low.
func (c *DiscoveryCoordinator) discoverAll(ctx context.Context) {
	var succeeded, failed int
	for _, d := range c.domains.DiscoverableDomains() {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log summary
		}
		if err := d.Discover(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("discovery failed",
				"component", "worker",
				"worker", "discovery-coordinator",
				"action", "discover_failed",
				"domain", string(d.Domain()),
				"error", err,
			)
			failed++
			continue
		}
		succeeded++
	}

	slog.Debug("discovery cycle completed",
		"component", "worker",
		"worker", "discovery-coordinator",
		"action", "cycle_complete",
		"succeeded", succeeded,
		"failed", failed,
	)
}
