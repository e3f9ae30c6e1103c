package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/peersync/internal/ports"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Peer is a sibling application serving the same domain.
type Peer struct {
	Identity    types.Identity `json:"identity"`
	Reachable   bool           `json:"reachable"`
	LastSeen    time.Time      `json:"last_seen"`
	Failures    int            `json:"failures"`
	NextAttempt time.Time      `json:"next_attempt,omitempty"`
}

// Port returns the port the peer listens on.
func (p Peer) Port() int { return p.Identity.Port }

// DiscoveryResult is the outcome of one window scan.
type DiscoveryResult struct {
	// Reachable lists every peer that answered the handshake.
	Reachable []Peer
	// Joined lists the subset that was unknown or unreachable before.
	Joined []Peer
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Self        types.Identity // Port is filled in by Announce
	BasePort    int
	Host        string
	Client      *Client
	RetryBase   time.Duration
	RetryMax    time.Duration
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger
}

type peerState struct {
	Peer
	backoff retry.Backoff
}

// Registry maintains the peers of one domain, keyed by app id.
type Registry struct {
	cfg    RegistryConfig
	client *Client
	logger *slog.Logger

	mu    sync.RWMutex
	port  int
	peers map[string]*peerState
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = NewClient(cfg.Host, "", DefaultTimeout)
	}
	return &Registry{
		cfg:    cfg,
		client: cfg.Client,
		logger: cfg.Logger.With("component", "peer", "domain", string(cfg.Self.Domain)),
		peers:  make(map[string]*peerState),
	}
}

// Announce binds the local listen port. It starts at the port resolved for
// the app id and probes linearly through the window while the address is in
// use. Returns ErrBindConflict when every slot is taken.
func (r *Registry) Announce(ctx context.Context) (net.Listener, error) {
	start := ports.ResolvePort(r.cfg.Self.AppID, r.cfg.BasePort)
	var lc net.ListenConfig

	for attempt := 0; attempt < ports.WindowSize; attempt++ {
		port := ports.Probe(r.cfg.BasePort, start, attempt)
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(r.cfg.Host, strconv.Itoa(port)))
		if err == nil {
			r.mu.Lock()
			r.port = port
			r.mu.Unlock()

			if attempt > 0 {
				r.logger.Info("resolved port in use, probed",
					"action", "announce",
					"resolved_port", start,
					"port", port,
					"attempts", attempt+1,
				)
			}
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("bind port %d: %w", port, err)
		}
	}

	return nil, fmt.Errorf("%w: %d..%d", ErrBindConflict, r.cfg.BasePort, r.cfg.BasePort+ports.WindowSize-1)
}

// Port returns the bound port, or 0 before Announce.
func (r *Registry) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.port
}

// Discover scans the whole port window with an identity handshake.
// Non-responding ports are skipped. Known peers that stop answering are
// marked unreachable; peers still inside their backoff are not probed.
func (r *Registry) Discover(ctx context.Context) (*DiscoveryResult, error) {
	self := r.Port()
	now := r.cfg.Now()

	skip := make(map[int]bool)
	known := make(map[int]string)
	r.mu.RLock()
	for id, p := range r.peers {
		known[p.Port()] = id
		if !p.Reachable && now.Before(p.NextAttempt) {
			skip[p.Port()] = true
		}
	}
	r.mu.RUnlock()

	var (
		mu    sync.Mutex
		found []types.Identity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	lo, hi := ports.Window(r.cfg.BasePort)
	for port := lo; port <= hi; port++ {
		if port == self || skip[port] {
			continue
		}
		port := port
		g.Go(func() error {
			id, err := r.client.Identify(gctx, port, r.cfg.Self.Domain)
			if err != nil {
				if appID, ok := known[port]; ok {
					r.MarkUnreachable(appID)
				}
				return nil
			}
			if id.AppID == r.cfg.Self.AppID {
				return nil
			}
			id.Port = port
			mu.Lock()
			found = append(found, *id)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &DiscoveryResult{}
	for _, id := range found {
		p, joined := r.Observe(id)
		result.Reachable = append(result.Reachable, p)
		if joined {
			result.Joined = append(result.Joined, p)
		}
	}
	sortPeers(result.Reachable)
	sortPeers(result.Joined)

	r.logger.Debug("discovery complete",
		"action", "discover",
		"reachable", len(result.Reachable),
		"joined", len(result.Joined),
	)
	return result, nil
}

// Observe records that the peer with identity id answered. It reports
// whether the peer was unknown or unreachable before.
func (r *Registry) Observe(id types.Identity) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.AppID]
	if !ok {
		p = &peerState{}
		r.peers[id.AppID] = p
	}
	joined := !ok || !p.Reachable
	p.Identity = id
	r.resetLocked(p)

	if joined {
		r.logger.Info("peer reachable",
			"action", "peer_joined",
			"peer", id.AppID,
			"port", id.Port,
		)
	}
	return p.Peer, joined
}

// MarkReachable clears the failure state of a known peer.
func (r *Registry) MarkReachable(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[appID]; ok {
		r.resetLocked(p)
	}
}

func (r *Registry) resetLocked(p *peerState) {
	p.Reachable = true
	p.LastSeen = r.cfg.Now()
	p.Failures = 0
	p.NextAttempt = time.Time{}
	p.backoff = nil
}

// MarkUnreachable records a failed exchange with a peer. The peer is kept
// and retried after an exponential backoff.
func (r *Registry) MarkUnreachable(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[appID]
	if !ok {
		return
	}
	if p.backoff == nil {
		p.backoff = retry.WithCappedDuration(r.cfg.RetryMax, retry.NewExponential(r.cfg.RetryBase))
	}
	delay, _ := p.backoff.Next()
	wasReachable := p.Reachable
	p.Reachable = false
	p.Failures++
	p.NextAttempt = r.cfg.Now().Add(delay)

	if wasReachable {
		r.logger.Info("peer unreachable",
			"action", "peer_lost",
			"peer", appID,
			"retry_in", delay.String(),
		)
	}
}

// Get returns the peer with the given app id.
func (r *Registry) Get(appID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[appID]
	if !ok {
		return Peer{}, false
	}
	return p.Peer, true
}

// Reachable returns the peers currently considered reachable.
func (r *Registry) Reachable() []Peer {
	return r.filter(func(p Peer) bool { return p.Reachable })
}

// Peers returns every known peer.
func (r *Registry) Peers() []Peer {
	return r.filter(func(Peer) bool { return true })
}

func (r *Registry) filter(keep func(Peer) bool) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if keep(p.Peer) {
			out = append(out, p.Peer)
		}
	}
	sortPeers(out)
	return out
}

func sortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Identity.AppID < peers[j].Identity.AppID
	})
}
