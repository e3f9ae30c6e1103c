package companion

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/peersync/internal/engine"
	"github.com/hyperengineering/peersync/internal/store"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/oklog/ulid/v2"
)

// collection holds the typed operations shared by every manager.
type collection[P any] struct {
	eng *engine.Engine
}

func (c collection[P]) list(ctx context.Context) ([]Record[P], error) {
	entities, err := c.eng.List(ctx)
	if err != nil {
		return nil, err
	}
	return decodeAll[P](entities)
}

func decodeAll[P any](entities []types.Entity) ([]Record[P], error) {
	out := make([]Record[P], 0, len(entities))
	for _, e := range entities {
		r, err := decode[P](e)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", e.Domain, e.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// filter returns the live records matching keep.
func (c collection[P]) filter(ctx context.Context, keep func(Record[P]) bool) ([]Record[P], error) {
	all, err := c.list(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c collection[P]) get(ctx context.Context, id string) (Record[P], error) {
	e, err := c.eng.Get(ctx, id)
	if err != nil {
		return Record[P]{}, err
	}
	return decode[P](*e)
}

// create stores data under a new id.
func (c collection[P]) create(ctx context.Context, data P) (Record[P], error) {
	return c.put(ctx, ulid.Make().String(), data)
}

// put stores data as the next revision of id.
func (c collection[P]) put(ctx context.Context, id string, data P) (Record[P], error) {
	written, err := c.eng.Update(ctx, func(tx *engine.Tx) error {
		return engine.PutValue(tx, id, data)
	})
	if err != nil {
		return Record[P]{}, err
	}
	return pick[P](written, id)
}

// modify applies fn to the live record of id and stores the result. The
// read and the write happen in the same batch.
func (c collection[P]) modify(ctx context.Context, id string, fn func(*P) error) (Record[P], error) {
	written, err := c.eng.Update(ctx, func(tx *engine.Tx) error {
		cur, err := tx.Get(id)
		if err != nil {
			return err
		}
		r, err := decode[P](*cur)
		if err != nil {
			return err
		}
		if err := fn(&r.Data); err != nil {
			return err
		}
		return engine.PutValue(tx, id, r.Data)
	})
	if err != nil {
		return Record[P]{}, err
	}
	return pick[P](written, id)
}

// getOrCreate returns the record of id, storing init() first when it is
// missing or deleted.
func (c collection[P]) getOrCreate(ctx context.Context, id string, init func() (P, error)) (Record[P], error) {
	r, err := c.get(ctx, id)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return r, err
	}
	written, err := c.eng.Update(ctx, func(tx *engine.Tx) error {
		if _, err := tx.Get(id); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		data, err := init()
		if err != nil {
			return err
		}
		return engine.PutValue(tx, id, data)
	})
	if err != nil {
		return Record[P]{}, err
	}
	if len(written) == 0 {
		// Created concurrently by another writer.
		return c.get(ctx, id)
	}
	return pick[P](written, id)
}

func (c collection[P]) remove(ctx context.Context, id string) error {
	_, err := c.eng.Update(ctx, func(tx *engine.Tx) error {
		return tx.Delete(id)
	})
	return err
}

// removeWhere deletes every live record matching match in one batch and
// returns how many were deleted.
func (c collection[P]) removeWhere(ctx context.Context, match func(Record[P]) bool) (int, error) {
	written, err := c.eng.Update(ctx, func(tx *engine.Tx) error {
		entities, err := tx.List()
		if err != nil {
			return err
		}
		for _, e := range entities {
			r, err := decode[P](e)
			if err != nil {
				return err
			}
			if !match(r) {
				continue
			}
			if err := tx.Delete(e.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return len(written), err
}

func (c collection[P]) watch(ctx context.Context) (*Watch[[]Record[P]], error) {
	return watchState(ctx, c.eng, c.list)
}
