package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
)

// mockDomain implements TombstoneCapableDomain, DiscoverableDomain and
// CompactableDomain.
type mockDomain struct {
	mu            sync.Mutex
	domain        types.Domain
	purgeCalls    int
	discoverCalls int
	compactCalls  int
	retention     time.Duration
	purged        int64
	err           error
}

func (m *mockDomain) Domain() types.Domain { return m.domain }

func (m *mockDomain) PurgeTombstones(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeCalls++
	m.retention = retention
	if m.err != nil {
		return 0, m.err
	}
	return m.purged, nil
}

func (m *mockDomain) Discover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverCalls++
	return m.err
}

func (m *mockDomain) CompactChangeLog(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactCalls++
	m.retention = retention
	if m.err != nil {
		return 0, m.err
	}
	return m.purged, nil
}

func (m *mockDomain) compactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactCalls
}

func (m *mockDomain) calls() (purge, discover int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeCalls, m.discoverCalls
}

// mockDomains implements both enumerators.
type mockDomains []*mockDomain

func newMockDomains(ds ...types.Domain) mockDomains {
	out := make(mockDomains, len(ds))
	for i, d := range ds {
		out[i] = &mockDomain{domain: d, purged: 2}
	}
	return out
}

func (m mockDomains) TombstoneDomains() []TombstoneCapableDomain {
	out := make([]TombstoneCapableDomain, len(m))
	for i, d := range m {
		out[i] = d
	}
	return out
}

func (m mockDomains) DiscoverableDomains() []DiscoverableDomain {
	out := make([]DiscoverableDomain, len(m))
	for i, d := range m {
		out[i] = d
	}
	return out
}

func (m mockDomains) CompactableDomains() []CompactableDomain {
	out := make([]CompactableDomain, len(m))
	for i, d := range m {
		out[i] = d
	}
	return out
}

// waitFor polls until every domain satisfies cond or the timeout expires.
func (m mockDomains) waitFor(timeout time.Duration, cond func(purge, discover int) bool) bool {
	deadline := time.After(timeout)
	for {
		done := true
		for _, d := range m {
			if !cond(d.calls()) {
				done = false
				break
			}
		}
		if done {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func runUntil(t *testing.T, run func(ctx context.Context), wait func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx)
		close(done)
	}()

	ok := wait()
	cancel()
	<-done
	if !ok {
		t.Fatal("timed out waiting for coordinator")
	}
}

func TestTombstoneCoordinator_PurgesAllDomains(t *testing.T) {
	domains := newMockDomains(types.DomainTheme, types.DomainHistory, types.DomainRSS)
	coord := NewTombstoneCoordinator(domains, 20*time.Millisecond, 72*time.Hour)

	runUntil(t, coord.Run, func() bool {
		return domains.waitFor(2*time.Second, func(p, _ int) bool { return p >= 1 })
	})

	for _, d := range domains {
		d.mu.Lock()
		if d.retention != 72*time.Hour {
			t.Errorf("%s retention = %v", d.domain, d.retention)
		}
		d.mu.Unlock()
	}
}

func TestTombstoneCoordinator_DoesNotRunImmediately(t *testing.T) {
	domains := newMockDomains(types.DomainTheme)
	coord := NewTombstoneCoordinator(domains, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if p, _ := domains[0].calls(); p != 0 {
		t.Errorf("expected no purge before the first tick, got %d", p)
	}
}

func TestTombstoneCoordinator_ContinuesPastFailures(t *testing.T) {
	domains := newMockDomains(types.DomainTheme, types.DomainProfile, types.DomainBookmark)
	domains[1].err = errors.New("disk full")
	coord := NewTombstoneCoordinator(domains, 20*time.Millisecond, time.Hour)

	runUntil(t, coord.Run, func() bool {
		return domains.waitFor(2*time.Second, func(p, _ int) bool { return p >= 2 })
	})
}

func TestDiscoveryCoordinator_RescansEveryDomain(t *testing.T) {
	domains := newMockDomains(types.DomainTheme, types.DomainLanguage)
	coord := NewDiscoveryCoordinator(domains, 20*time.Millisecond)

	runUntil(t, coord.Run, func() bool {
		return domains.waitFor(2*time.Second, func(_, d int) bool { return d >= 2 })
	})
}

func TestDiscoveryCoordinator_ContinuesPastFailures(t *testing.T) {
	domains := newMockDomains(types.DomainTheme, types.DomainLanguage)
	domains[0].err = errors.New("window unreachable")
	coord := NewDiscoveryCoordinator(domains, 20*time.Millisecond)

	runUntil(t, coord.Run, func() bool {
		return domains.waitFor(2*time.Second, func(_, d int) bool { return d >= 1 })
	})
}

func TestDiscoveryCoordinator_StopsOnCancel(t *testing.T) {
	domains := newMockDomains(types.DomainTheme)
	coord := NewDiscoveryCoordinator(domains, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("coordinator took %v to stop", d)
	}
}

func TestCompactionCoordinator_CompactsAllDomains(t *testing.T) {
	domains := newMockDomains(types.DomainHistory, types.DomainBookmark)
	coord := NewCompactionCoordinator(domains, 20*time.Millisecond, 168*time.Hour)

	runUntil(t, coord.Run, func() bool {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if domains[0].compactions() >= 1 && domains[1].compactions() >= 1 {
				return true
			}
			time.Sleep(5 * time.Millisecond)
		}
		return false
	})

	for _, d := range domains {
		d.mu.Lock()
		if d.retention != 168*time.Hour {
			t.Errorf("%s retention = %v", d.domain, d.retention)
		}
		d.mu.Unlock()
	}
}

func TestCompactionCoordinator_ContinuesPastFailures(t *testing.T) {
	// Given: The first domain fails every compaction
	domains := newMockDomains(types.DomainTheme, types.DomainRSS)
	domains[0].err = errors.New("database is locked")
	coord := NewCompactionCoordinator(domains, 20*time.Millisecond, time.Hour)

	// Then: The second domain is still compacted on every cycle
	runUntil(t, coord.Run, func() bool {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if domains[1].compactions() >= 2 {
				return true
			}
			time.Sleep(5 * time.Millisecond)
		}
		return false
	})
}

func TestEnginesAdapter_Empty(t *testing.T) {
	var es Engines
	if len(es.TombstoneDomains()) != 0 || len(es.DiscoverableDomains()) != 0 || len(es.CompactableDomains()) != 0 {
		t.Error("empty adapter returned domains")
	}
}
