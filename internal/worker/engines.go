// Package worker runs the periodic background jobs shared by every domain
// engine of a process.
package worker

import "github.com/hyperengineering/peersync/internal/engine"

// Engines adapts a set of domain engines to the coordinator enumerators.
type Engines []*engine.Engine

// TombstoneDomains returns every engine as a TombstoneCapableDomain.
func (es Engines) TombstoneDomains() []TombstoneCapableDomain {
	out := make([]TombstoneCapableDomain, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// DiscoverableDomains returns every engine as a DiscoverableDomain.
func (es Engines) DiscoverableDomains() []DiscoverableDomain {
	out := make([]DiscoverableDomain, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// CompactableDomains returns every engine as a CompactableDomain.
func (es Engines) CompactableDomains() []CompactableDomain {
	out := make([]CompactableDomain, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}
