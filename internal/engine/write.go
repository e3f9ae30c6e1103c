package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/store"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Tx stages the local writes of one Update call. Reads see the staged
// writes on top of the stored table.
type Tx struct {
	ctx    context.Context
	e      *Engine
	staged map[string]types.Entity
	order  []string
}

// Get returns the live entity with the given id, staged writes included.
func (tx *Tx) Get(id string) (*types.Entity, error) {
	if ent, ok := tx.staged[id]; ok {
		if ent.Deleted {
			return nil, fmt.Errorf("%s/%s: %w", tx.e.domain, id, store.ErrNotFound)
		}
		return &ent, nil
	}
	return tx.e.Get(tx.ctx, id)
}

// List returns every live entity ordered by id, staged writes included.
func (tx *Tx) List() ([]types.Entity, error) {
	stored, err := tx.e.store.List(tx.ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entity, 0, len(stored)+len(tx.staged))
	for _, ent := range stored {
		if _, ok := tx.staged[ent.ID]; !ok {
			out = append(out, ent)
		}
	}
	for _, id := range tx.order {
		if ent := tx.staged[id]; !ent.Deleted {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stages a new revision of id carrying payload.
func (tx *Tx) Put(id string, payload json.RawMessage) {
	tx.stage(types.Entity{ID: id, Payload: payload})
}

// Delete stages a tombstone for id. Deleting a missing or already deleted
// entity returns store.ErrNotFound.
func (tx *Tx) Delete(id string) error {
	cur, err := tx.Get(id)
	if err != nil {
		return err
	}
	tx.stage(types.Entity{ID: id, Deleted: true, Payload: cur.Payload})
	return nil
}

func (tx *Tx) stage(ent types.Entity) {
	if _, ok := tx.staged[ent.ID]; !ok {
		tx.order = append(tx.order, ent.ID)
	}
	tx.staged[ent.ID] = ent
}

// PutValue encodes v and stages it as the payload of id.
func PutValue[T any](tx *Tx, id string, v T) error {
	payload, err := domain.Encode(v)
	if err != nil {
		return err
	}
	tx.Put(id, payload)
	return nil
}

// Update runs fn on the worker and persists what it staged as one atomic
// batch. Each written id gets version+1; the whole batch shares one
// timestamp strictly later than every revision it replaces. In single
// default domains, staging a default demotes the previous default of the
// same group within the same batch.
//
// Accepted writes are published on the bus before Update returns and are
// queued for broadcast. Validation failures return a *validation.Errors
// and persistence failures wrap store.ErrPersistence; in both cases
// nothing is published.
func (e *Engine) Update(ctx context.Context, fn func(tx *Tx) error) ([]types.Entity, error) {
	var written []types.Entity
	err := e.do(ctx, func() error {
		tx := &Tx{ctx: ctx, e: e, staged: make(map[string]types.Entity)}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.order) == 0 {
			return nil
		}

		writes, err := e.prepareLocal(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := e.store.Apply(ctx, writes...); err != nil {
			return err
		}

		e.publish(writes)
		written = make([]types.Entity, len(writes))
		for i, w := range writes {
			written[i] = w.Entity
		}
		e.enqueue(written)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(written) > 0 {
		e.maybeRediscover()
	}
	return written, nil
}

// prepareLocal turns staged entities into stamped writes, adding the
// demotions needed to keep a single default per group.
func (e *Engine) prepareLocal(ctx context.Context, tx *Tx) ([]store.Write, error) {
	prev := make(map[string]*types.Entity, len(tx.order))
	entities := make([]types.Entity, 0, len(tx.order))

	for _, id := range tx.order {
		ent := tx.staged[id]
		cur, err := e.store.Get(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cur = nil
		case err != nil:
			return nil, err
		}
		prev[id] = cur

		ent.Domain = e.domain
		ent.ClientType = e.policy.ClientType(ent)
		if cur != nil {
			ent.Version = cur.Version + 1
		} else {
			ent.Version = 1
		}
		if err := e.checkLocal(ent); err != nil {
			return nil, err
		}
		entities = append(entities, ent)
	}

	demotions, err := e.localDemotions(ctx, tx, entities)
	if err != nil {
		return nil, err
	}
	for _, d := range demotions {
		cur := d
		prev[d.ID] = &cur
		d.Version++
		entities = append(entities, d)
	}

	stamp := e.stamp(prev)
	writes := make([]store.Write, len(entities))
	for i, ent := range entities {
		ent.LastModified = stamp
		ent.SourceApp = e.opts.Identity.AppID
		writes[i] = store.Write{Entity: ent, Origin: types.OriginLocal}
	}
	return writes, nil
}

// checkLocal validates a staged entity and applies the client type filter.
func (e *Engine) checkLocal(ent types.Entity) error {
	if err := e.policy.Validate(ent); err != nil {
		return err
	}
	if !domain.MatchesClientType(e.opts.ClientTypeFilter, ent.ClientType) {
		return validation.New("client_type",
			fmt.Sprintf("%q is outside this app's client type filter %q", ent.ClientType, e.opts.ClientTypeFilter))
	}
	return nil
}

// localDemotions returns the stored defaults that lose their flag because
// the batch stages a new default in the same group. Two staged defaults in
// one group are rejected.
func (e *Engine) localDemotions(ctx context.Context, tx *Tx, entities []types.Entity) ([]types.Entity, error) {
	if !e.policy.SingleDefault() {
		return nil, nil
	}

	groups := make(map[string]string)
	for _, ent := range entities {
		if !e.policy.IsDefault(ent) {
			continue
		}
		g := e.policy.DefaultGroup(ent)
		if other, dup := groups[g]; dup {
			return nil, validation.New("is_default",
				fmt.Sprintf("%s and %s cannot both be default", other, ent.ID))
		}
		groups[g] = ent.ID
	}
	if len(groups) == 0 {
		return nil, nil
	}

	live, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var demoted []types.Entity
	for _, ent := range live {
		if _, staged := tx.staged[ent.ID]; staged || !e.policy.IsDefault(ent) {
			continue
		}
		if _, ok := groups[e.policy.DefaultGroup(ent)]; !ok {
			continue
		}
		d, err := e.policy.Demote(ent)
		if err != nil {
			return nil, fmt.Errorf("demote %s: %w", ent.ID, err)
		}
		demoted = append(demoted, d)
	}
	return demoted, nil
}

// stamp returns the timestamp of a local batch: the current time, pushed
// past every revision being replaced and past the previous local batch.
func (e *Engine) stamp(prev map[string]*types.Entity) time.Time {
	now := e.opts.Now().UTC().Round(0)
	floor := e.lastStamp
	for _, p := range prev {
		if p != nil && p.LastModified.After(floor) {
			floor = p.LastModified
		}
	}
	if !now.After(floor) {
		now = floor.Add(time.Nanosecond)
	}
	e.lastStamp = now
	return now
}

// Seed stores entities exactly as given for every id that has never been
// seen, tombstones included. Seeded rows are reconciled like a remote
// write so a seeded default yields to an existing one the same way on
// every app. They are published locally but not broadcast.
func (e *Engine) Seed(ctx context.Context, entities ...types.Entity) ([]types.Entity, error) {
	var seeded []types.Entity
	err := e.do(ctx, func() error {
		for _, ent := range entities {
			_, err := e.store.Get(ctx, ent.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			ent.Domain = e.domain
			if err := e.policy.Validate(ent); err != nil {
				return err
			}
			writes, _, err := e.reconcileOne(ctx, ent, types.OriginLocal)
			if err != nil {
				return err
			}
			for _, w := range writes {
				seeded = append(seeded, w.Entity)
			}
		}
		return nil
	})
	return seeded, err
}
