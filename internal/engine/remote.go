package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hyperengineering/peersync/internal/api"
	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/ports"
	"github.com/hyperengineering/peersync/internal/reconcile"
	"github.com/hyperengineering/peersync/internal/store"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
)

// Rejection reasons in addition to the reconciler's.
const (
	ReasonInvalid  = "invalid"
	ReasonFiltered = "filtered"
)

// ApplyRemote reconciles a push from a peer. Every entity is handled on
// its own: stale or invalid ones are rejected in the response while the
// rest are applied. Replaying a push id returns the recorded response
// without touching the store. A push from an unknown or previously
// unreachable peer triggers a catch-up with it. Sources claiming a port
// outside the domain's window are applied but never registered as peers.
func (e *Engine) ApplyRemote(ctx context.Context, req *peersync.PushRequest) (*peersync.PushResponse, error) {
	if e.State() == StateStopped {
		return nil, fmt.Errorf("%w: %w", api.ErrUnavailable, ErrStopped)
	}

	if ports.InWindow(e.opts.BasePort, req.Source.Port) && req.Source.AppID != e.opts.Identity.AppID {
		source := req.Source
		source.Domain = e.domain
		if p, joined := e.registry.Observe(source); joined {
			e.goBackground(func(ctx context.Context) {
				e.catchUp(ctx, p.Identity.AppID, p.Port())
			})
		}
	}

	var resp *peersync.PushResponse
	err := e.do(ctx, func() error {
		cached, ok, err := e.store.CheckPushIdempotency(ctx, req.PushID)
		if err != nil {
			return err
		}
		if ok {
			var replay peersync.PushResponse
			if err := json.Unmarshal(cached, &replay); err == nil {
				e.logger.Debug("push replayed", "action", "sync_push_replay", "push_id", req.PushID)
				resp = &replay
				return nil
			}
		}

		resp, err = e.applyEntities(ctx, req.Source.AppID, req.Entities)
		if err != nil {
			return err
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode push response: %w", err)
		}
		return e.store.RecordPushIdempotency(ctx, req.PushID, data, e.opts.IdempotencyTTL)
	})
	if errors.Is(err, ErrStopped) {
		return nil, fmt.Errorf("%w: %w", api.ErrUnavailable, err)
	}
	return resp, err
}

// applyEntities reconciles entities in order. Must run on the worker.
func (e *Engine) applyEntities(ctx context.Context, sourceApp string, entities []types.Entity) (*peersync.PushResponse, error) {
	start := time.Now()
	resp := &peersync.PushResponse{}
	cascaded := 0

	for _, ent := range entities {
		ent.Domain = e.domain
		if reason := e.screenRemote(ent); reason != "" {
			resp.Rejected = append(resp.Rejected, peersync.Rejection{EntityID: ent.ID, Version: ent.Version, Reason: reason})
			continue
		}

		writes, reason, err := e.reconcileOne(ctx, ent, types.OriginRemote)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			e.logger.Debug("remote entity rejected",
				"action", "reconcile_reject",
				"peer", sourceApp,
				"entity_id", ent.ID,
				"version", ent.Version,
				"reason", reason,
			)
			resp.Rejected = append(resp.Rejected, peersync.Rejection{EntityID: ent.ID, Version: ent.Version, Reason: reason})
			continue
		}
		resp.Accepted++
		cascaded += len(writes) - 1
	}

	if resp.Accepted > 0 {
		e.logger.Info("remote changes applied",
			"action", "sync_apply",
			"peer", sourceApp,
			"accepted", resp.Accepted,
			"rejected", len(resp.Rejected),
			"cascaded", cascaded,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return resp, nil
}

// screenRemote returns a rejection reason for entities this app never
// stores, or "".
func (e *Engine) screenRemote(ent types.Entity) string {
	if err := e.policy.Validate(ent); err != nil {
		e.logger.Warn("invalid remote entity",
			"action", "reconcile_invalid",
			"entity_id", ent.ID,
			"error", err,
		)
		return ReasonInvalid
	}
	if !domain.MatchesClientType(e.opts.ClientTypeFilter, e.policy.ClientType(ent)) {
		return ReasonFiltered
	}
	return ""
}

// reconcileOne merges ent into the store. It returns the persisted writes,
// or the rejection reason when the local copy wins. Accepted writes are
// published. Must run on the worker.
func (e *Engine) reconcileOne(ctx context.Context, ent types.Entity, origin string) ([]store.Write, string, error) {
	ent.ClientType = e.policy.ClientType(ent)

	local, err := e.store.Get(ctx, ent.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		local = nil
	case err != nil:
		return nil, "", err
	}

	var defaults []types.Entity
	if e.policy.SingleDefault() && e.policy.IsDefault(ent) {
		live, err := e.store.List(ctx)
		if err != nil {
			return nil, "", err
		}
		for _, l := range live {
			if e.policy.IsDefault(l) {
				defaults = append(defaults, l)
			}
		}
	}

	res, err := e.reconciler.Reconcile(local, ent, defaults)
	if err != nil {
		return nil, "", err
	}
	if res.Decision == reconcile.Reject {
		return nil, res.Reason, nil
	}

	writes := make([]store.Write, len(res.Writes))
	for i, w := range res.Writes {
		o := types.OriginCascade
		if w.ID == ent.ID {
			o = origin
		}
		w.ClientType = e.policy.ClientType(w)
		writes[i] = store.Write{Entity: w, Origin: o}
	}
	if _, err := e.store.Apply(ctx, writes...); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return nil, reconcile.ReasonStale, nil
		}
		return nil, "", err
	}
	e.publish(writes)
	return writes, "", nil
}
