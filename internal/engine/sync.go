package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hyperengineering/peersync/internal/api"
	"github.com/hyperengineering/peersync/internal/peer"
	"github.com/hyperengineering/peersync/internal/store"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Discover scans the port window and catches up with every peer that
// became reachable. Concurrent calls collapse into the running scan.
func (e *Engine) Discover(ctx context.Context) error {
	if !e.discoverMu.TryLock() {
		return nil
	}
	defer e.discoverMu.Unlock()
	e.lastDiscover.Store(e.opts.Now().UnixNano())

	res, err := e.registry.Discover(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, p := range res.Joined {
		p := p
		g.Go(func() error {
			e.catchUp(ctx, p.Identity.AppID, p.Port())
			return nil
		})
	}
	return g.Wait()
}

// maybeRediscover starts a background scan unless one ran recently.
func (e *Engine) maybeRediscover() {
	if e.State() != StateActive {
		return
	}
	last := time.Unix(0, e.lastDiscover.Load())
	if e.opts.Now().Sub(last) < e.opts.RediscoveryGap {
		return
	}
	e.goBackground(func(ctx context.Context) {
		if err := e.Discover(ctx); err != nil && ctx.Err() == nil {
			e.logger.Debug("rediscovery failed", "action", "discover_failed", "error", err)
		}
	})
}

// catchUp pulls the peer's table and then pushes every local change the
// peer has not acknowledged yet.
func (e *Engine) catchUp(ctx context.Context, appID string, port int) {
	start := time.Now()

	snap, err := e.client.Snapshot(ctx, port, e.domain)
	if err != nil {
		e.peerFailed(appID, "snapshot", err)
		return
	}
	var resp *peersync.PushResponse
	err = e.do(ctx, func() error {
		var err error
		resp, err = e.applyEntities(ctx, appID, snap.Entities)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrStopped) && ctx.Err() == nil {
			e.logger.Error("apply snapshot failed", "action", "catch_up_failed", "peer", appID, "error", err)
		}
		return
	}

	pushed, err := e.pushChanges(ctx, appID, port)
	if err != nil {
		e.peerFailed(appID, "push", err)
		return
	}

	e.logger.Info("caught up with peer",
		"action", "catch_up",
		"peer", appID,
		"pulled", len(snap.Entities),
		"accepted", resp.Accepted,
		"pushed", pushed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// pushChanges sends the current revision of every entity changed since
// the peer's cursor and advances the cursor after each acknowledged batch.
// At least one push is always sent so the peer learns our port.
func (e *Engine) pushChanges(ctx context.Context, appID string, port int) (int, error) {
	key := peersync.PeerCursorKey(appID)
	var cursor int64
	raw, err := e.store.GetSyncMeta(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		cursor, _ = strconv.ParseInt(raw, 10, 64)
	}

	pushed := 0
	sent := false
	for {
		changes, err := e.store.ChangesAfter(ctx, cursor, api.MaxPushEntities)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			if !sent {
				// An empty push still introduces us to the peer.
				_, err := e.client.Push(ctx, port, e.domain, e.pushRequest(nil))
				return 0, err
			}
			return pushed, nil
		}

		seen := make(map[string]bool, len(changes))
		batch := make([]types.Entity, 0, len(changes))
		for _, c := range changes {
			if seen[c.EntityID] {
				continue
			}
			seen[c.EntityID] = true
			ent, err := e.store.Get(ctx, c.EntityID)
			if errors.Is(err, store.ErrNotFound) {
				continue // purged tombstone
			}
			if err != nil {
				return pushed, err
			}
			batch = append(batch, *ent)
		}

		if len(batch) > 0 {
			if _, err := e.client.Push(ctx, port, e.domain, e.pushRequest(batch)); err != nil {
				return pushed, err
			}
			pushed += len(batch)
			sent = true
		}

		cursor = changes[len(changes)-1].Sequence
		if err := e.store.SetSyncMeta(ctx, key, strconv.FormatInt(cursor, 10)); err != nil {
			return pushed, err
		}
	}
}

func (e *Engine) pushRequest(entities []types.Entity) *peersync.PushRequest {
	return &peersync.PushRequest{
		PushID:   ulid.Make().String(),
		Source:   e.Identity(),
		Entities: entities,
	}
}

// peerFailed marks the peer unreachable after any failed exchange so the
// changes it missed are resent by the catch-up that follows its backoff.
func (e *Engine) peerFailed(appID, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	e.registry.MarkUnreachable(appID)
	var remote *peer.RemoteError
	if errors.As(err, &remote) {
		e.logger.Warn("peer exchange failed", "action", op+"_failed", "peer", appID, "status", remote.StatusCode, "error", err)
		return
	}
	e.logger.Debug("peer exchange failed", "action", op+"_failed", "peer", appID, "error", err)
}

// enqueue queues a batch for broadcast. When the outbox is full the oldest
// batch is dropped; its entities reach peers with the next catch-up.
// Must run on the worker.
func (e *Engine) enqueue(batch []types.Entity) {
	for {
		select {
		case e.outbox <- batch:
			return
		default:
		}
		select {
		case dropped := <-e.outbox:
			e.logger.Warn("broadcast outbox full, dropping batch",
				"action", "broadcast_dropped",
				"entities", len(dropped),
			)
		default:
		}
	}
}

// runBroadcaster pushes queued batches to every reachable peer until the
// outbox is closed and drained.
func (e *Engine) runBroadcaster() {
	defer close(e.broadcasterDone)
	for batch := range e.outbox {
		e.broadcast(e.bgCtx, batch)
	}
}

// broadcast is fire and forget: a peer that fails is marked unreachable
// and catches up once it is discovered again. Batches larger than a push
// may carry are sent in order as several pushes.
func (e *Engine) broadcast(ctx context.Context, batch []types.Entity) {
	peers := e.registry.Reachable()
	if len(peers) == 0 || ctx.Err() != nil {
		return
	}

	reqs := make([]*peersync.PushRequest, 0, len(batch)/api.MaxPushEntities+1)
	for start := 0; start < len(batch); start += api.MaxPushEntities {
		end := min(start+api.MaxPushEntities, len(batch))
		reqs = append(reqs, e.pushRequest(batch[start:end]))
	}

	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			accepted, rejected := 0, 0
			for _, req := range reqs {
				resp, err := e.client.Push(ctx, p.Port(), e.domain, req)
				if err != nil {
					e.peerFailed(p.Identity.AppID, "broadcast", err)
					return nil
				}
				accepted += resp.Accepted
				rejected += len(resp.Rejected)
			}
			e.registry.MarkReachable(p.Identity.AppID)
			e.logger.Debug("broadcast delivered",
				"action", "broadcast",
				"peer", p.Identity.AppID,
				"entities", len(batch),
				"pushes", len(reqs),
				"accepted", accepted,
				"rejected", rejected,
			)
			return nil
		})
	}
	_ = g.Wait()
}
