package domain

import (
	"sort"
	"sync"

	"github.com/hyperengineering/peersync/internal/types"
)

// Registry maps domains to their policies. One Registry is built at process
// startup and passed to every engine.
type Registry struct {
	mu       sync.RWMutex
	policies map[types.Domain]Policy
}

// NewRegistry creates a registry holding the given policies.
func NewRegistry(policies ...Policy) *Registry {
	r := &Registry{policies: make(map[types.Domain]Policy)}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Builtins returns a registry with the policy of every known domain.
func Builtins() *Registry {
	return NewRegistry(
		ThemePolicy(),
		LanguagePolicy(),
		ProfilePolicy(),
		HistoryPolicy(),
		BookmarkPolicy(),
		RSSPolicy(),
		PreferencesPolicy(),
		TorrentSharingPolicy(),
	)
}

// Register adds a policy to the registry.
// Panics if a policy for the same domain is already registered.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := p.Domain()
	if _, exists := r.policies[d]; exists {
		panic("policy already registered: " + string(d))
	}
	r.policies[d] = p
}

// Get returns the policy for the given domain.
func (r *Registry) Get(d types.Domain) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[d]
	return p, ok
}

// MustGet returns the policy for the given domain.
// Panics if no policy is registered.
func (r *Registry) MustGet(d types.Domain) Policy {
	p, ok := r.Get(d)
	if !ok {
		panic("no policy for domain: " + string(d))
	}
	return p
}

// Domains returns all registered domains, sorted.
func (r *Registry) Domains() []types.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]types.Domain, 0, len(r.policies))
	for d := range r.policies {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	return domains
}
