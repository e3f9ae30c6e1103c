// Package engine runs the sync loop of one domain: it serializes every
// mutation of the domain's store, reconciles incoming pushes, publishes
// accepted changes locally and broadcasts local writes to reachable peers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/peersync/internal/api"
	"github.com/hyperengineering/peersync/internal/bus"
	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/peer"
	"github.com/hyperengineering/peersync/internal/reconcile"
	"github.com/hyperengineering/peersync/internal/store"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
)

var (
	// ErrStopped is returned by operations on a stopped engine.
	ErrStopped = errors.New("engine stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("engine already started")
)

// Defaults applied by New for zero option values.
const (
	DefaultOutboxSize      = 256
	DefaultRediscoveryGap  = 10 * time.Second
	DefaultIdempotencyTTL  = 24 * time.Hour
	DefaultShutdownTimeout = 5 * time.Second
)

// State is the lifecycle position of an engine.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateDiscovering
	StateActive
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateDiscovering:
		return "discovering"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Change is published on the engine's bus for every persisted write.
type Change struct {
	Entity types.Entity
	Origin string // types.OriginLocal, OriginRemote or OriginCascade
}

// Options configures an Engine.
type Options struct {
	// Identity of this app for the domain. Port is assigned by Start.
	Identity types.Identity
	Policy   domain.Policy
	Store    store.Store

	BasePort int
	Host     string
	APIKey   string

	// ClientTypeFilter restricts which records are written, accepted and
	// broadcast. Empty accepts everything.
	ClientTypeFilter string

	StartDelay     time.Duration
	RequestTimeout time.Duration
	OutboxSize     int
	BusBuffer      int
	RediscoveryGap time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
	IdempotencyTTL time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine owns one domain's store and its peer traffic.
type Engine struct {
	opts       Options
	domain     types.Domain
	policy     domain.Policy
	store      store.Store
	reconciler *reconcile.Reconciler
	bus        *bus.Bus[Change]
	client     *peer.Client
	registry   *peer.Registry
	logger     *slog.Logger

	state atomic.Int32
	port  atomic.Int64

	// ops feeds the worker goroutine. It is unbuffered so an op that was
	// handed over always runs.
	ops        chan func()
	quit       chan struct{}
	workerDone chan struct{}

	outbox          chan []types.Entity
	broadcasterDone chan struct{}
	lastStamp       time.Time // guarded by the worker

	server    *http.Server
	serveDone chan struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bgClosed bool
	bgWG     sync.WaitGroup

	discoverMu   sync.Mutex
	lastDiscover atomic.Int64

	stopOnce sync.Once
}

// New creates an engine and starts its worker. The engine serves local
// reads and writes immediately; Start connects it to peers.
func New(opts Options) (*Engine, error) {
	if opts.Policy == nil {
		return nil, errors.New("engine: policy is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Identity.AppID == "" {
		return nil, errors.New("engine: app id is required")
	}
	opts.Identity.Domain = opts.Policy.Domain()
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = peer.DefaultTimeout
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.RediscoveryGap <= 0 {
		opts.RediscoveryGap = DefaultRediscoveryGap
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := opts.Policy.Domain()
	logger := opts.Logger.With("component", "engine", "domain", string(d), "app_id", opts.Identity.AppID)
	client := peer.NewClient(opts.Host, opts.APIKey, opts.RequestTimeout)

	e := &Engine{
		opts:       opts,
		domain:     d,
		policy:     opts.Policy,
		store:      opts.Store,
		reconciler: reconcile.New(opts.Policy),
		bus:        bus.New[Change](opts.BusBuffer),
		client:     client,
		registry: peer.NewRegistry(peer.RegistryConfig{
			Self:      opts.Identity,
			BasePort:  opts.BasePort,
			Host:      opts.Host,
			Client:    client,
			RetryBase: opts.RetryBase,
			RetryMax:  opts.RetryMax,
			Now:       opts.Now,
			Logger:    opts.Logger,
		}),
		logger:          logger,
		ops:             make(chan func()),
		quit:            make(chan struct{}),
		workerDone:      make(chan struct{}),
		outbox:          make(chan []types.Entity, opts.OutboxSize),
		broadcasterDone: make(chan struct{}),
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())

	go e.runWorker()
	go e.runBroadcaster()
	return e, nil
}

// Domain returns the domain served by the engine.
func (e *Engine) Domain() types.Domain { return e.domain }

// Policy returns the domain policy.
func (e *Engine) Policy() domain.Policy { return e.policy }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Port returns the bound listen port, or 0 when not listening.
func (e *Engine) Port() int { return int(e.port.Load()) }

// Identity returns this app's identity for the domain.
func (e *Engine) Identity() types.Identity {
	id := e.opts.Identity
	id.Port = e.Port()
	return id
}

// Peers returns every peer known to the registry.
func (e *Engine) Peers() []peer.Peer { return e.registry.Peers() }

// Start binds the listen port, serves the RPC surface, and pulls from
// every reachable peer before entering the active state. Discovery and
// transport failures are logged and leave the engine active with fewer
// peers. A full port window leaves it active without a listener: it can
// still pull from and push to peers but cannot be pushed to.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		if e.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}

	if d := e.opts.StartDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.state.CompareAndSwap(int32(StateStarting), int32(StateCreated))
			return ctx.Err()
		}
	}

	ln, err := e.registry.Announce(ctx)
	switch {
	case errors.Is(err, peer.ErrBindConflict):
		e.logger.Warn("port window full, running without listener",
			"action", "announce_failed",
			"base_port", e.opts.BasePort,
			"error", err,
		)
	case err != nil:
		e.state.CompareAndSwap(int32(StateStarting), int32(StateCreated))
		return fmt.Errorf("announce %s: %w", e.domain, err)
	default:
		e.serve(ln)
	}

	if !e.state.CompareAndSwap(int32(StateStarting), int32(StateDiscovering)) {
		return ErrStopped
	}
	if err := e.Discover(ctx); err != nil && ctx.Err() == nil {
		e.logger.Warn("initial discovery failed", "action", "discover_failed", "error", err)
	}
	if !e.state.CompareAndSwap(int32(StateDiscovering), int32(StateActive)) {
		return ErrStopped
	}

	e.logger.Info("engine active",
		"action", "engine_started",
		"port", e.Port(),
		"peers", len(e.registry.Reachable()),
	)
	return nil
}

func (e *Engine) serve(ln net.Listener) {
	e.port.Store(int64(ln.Addr().(*net.TCPAddr).Port))
	e.server = &http.Server{
		Handler:           api.NewRouter(api.NewHandler(e.opts.APIKey, e)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	e.serveDone = make(chan struct{})
	go func() {
		defer close(e.serveDone)
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("rpc server stopped", "action", "serve_failed", "error", err)
		}
	}()
}

// Stop shuts the engine down: the listener closes, queued mutations
// finish, pending broadcasts are flushed until ctx expires, and
// subscriptions are closed. The store is left open for its owner.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		err = e.stop(ctx)
	})
	return err
}

func (e *Engine) stop(ctx context.Context) error {
	e.state.Store(int32(StateStopped))

	var errs []error
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown rpc server: %w", err))
			_ = e.server.Close()
		}
		<-e.serveDone
	}

	close(e.quit)
	<-e.workerDone

	// No op can enqueue once the worker is gone.
	close(e.outbox)
	select {
	case <-e.broadcasterDone:
	case <-ctx.Done():
		e.logger.Warn("dropping pending broadcasts", "action", "broadcast_abandoned")
	}

	e.bgMu.Lock()
	e.bgClosed = true
	e.bgMu.Unlock()
	e.bgCancel()
	e.bgWG.Wait()
	<-e.broadcasterDone

	e.bus.Close()
	e.logger.Info("engine stopped", "action", "engine_stopped")
	return errors.Join(errs...)
}

// runWorker executes ops one at a time until quit is closed.
func (e *Engine) runWorker() {
	defer close(e.workerDone)
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the worker and waits for its result. If ctx ends while fn
// is running, do returns early and fn still completes.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	if e.State() == StateStopped {
		return ErrStopped
	}
	res := make(chan error, 1)
	select {
	case e.ops <- func() { res <- fn() }:
	case <-e.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goBackground runs fn on a tracked goroutine bound to the engine's
// lifetime. It is a no-op once the engine is stopping.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.bgClosed {
		return
	}
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		fn(e.bgCtx)
	}()
}

// Subscribe returns a subscription receiving every change persisted after
// the call.
func (e *Engine) Subscribe(ctx context.Context) (*bus.Subscription[Change], error) {
	sub, err := e.bus.Subscribe(ctx)
	if errors.Is(err, bus.ErrClosed) {
		return nil, ErrStopped
	}
	return sub, err
}

// Get returns the live entity with the given id. Tombstones are reported
// as store.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*types.Entity, error) {
	ent, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ent.Deleted {
		return nil, fmt.Errorf("%s/%s: %w", e.domain, id, store.ErrNotFound)
	}
	return ent, nil
}

// List returns every live entity ordered by id.
func (e *Engine) List(ctx context.Context) ([]types.Entity, error) {
	return e.store.List(ctx)
}

// Snapshot returns the full table including tombstones.
func (e *Engine) Snapshot(ctx context.Context) (*peersync.SnapshotResponse, error) {
	entities, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &peersync.SnapshotResponse{
		Identity: e.Identity(),
		Entities: entities,
		TakenAt:  e.opts.Now().UTC(),
	}, nil
}

// PurgeTombstones hard-deletes tombstones older than retention and expired
// push idempotency records.
func (e *Engine) PurgeTombstones(ctx context.Context, retention time.Duration) (int64, error) {
	var purged int64
	err := e.do(ctx, func() error {
		now := e.opts.Now().UTC()
		n, err := e.store.PurgeTombstones(ctx, now.Add(-retention))
		if err != nil {
			return err
		}
		purged = n
		if _, err := e.store.CleanExpiredIdempotency(ctx); err != nil {
			return err
		}
		return e.store.SetSyncMeta(ctx, peersync.SyncMetaLastTombstoneGC, now.Format(time.RFC3339Nano))
	})
	return purged, err
}

// CompactChangeLog drops change-log entries older than retention that a
// push would skip anyway.
func (e *Engine) CompactChangeLog(ctx context.Context, retention time.Duration) (int64, error) {
	var compacted int64
	err := e.do(ctx, func() error {
		now := e.opts.Now().UTC()
		n, err := e.store.CompactChangeLog(ctx, now.Add(-retention))
		if err != nil {
			return err
		}
		compacted = n
		seq, err := e.store.LatestSequence(ctx)
		if err != nil {
			return err
		}
		if err := e.store.SetSyncMeta(ctx, peersync.SyncMetaLastCompactionSeq, strconv.FormatInt(seq, 10)); err != nil {
			return err
		}
		return e.store.SetSyncMeta(ctx, peersync.SyncMetaLastCompactionAt, now.Format(time.RFC3339Nano))
	})
	return compacted, err
}

// Stats returns table statistics.
func (e *Engine) Stats(ctx context.Context) (*types.StoreStats, error) {
	return e.store.Stats(ctx)
}

func (e *Engine) publish(writes []store.Write) {
	changes := make([]Change, len(writes))
	for i, w := range writes {
		changes[i] = Change{Entity: w.Entity, Origin: w.Origin}
	}
	e.bus.Publish(changes...)
}
