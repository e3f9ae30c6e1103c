package companion

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/peersync/internal/engine"
)

// changeBuffer is the capacity of per-change watches.
const changeBuffer = 16

// Watch delivers values of a live query. Its channel is closed when the
// watch is closed, its context ends or the host stops.
type Watch[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}
}

// C returns the receive channel.
func (w *Watch[T]) C() <-chan T { return w.ch }

// Close stops the watch and waits for its goroutine to exit.
func (w *Watch[T]) Close() {
	w.cancel()
	<-w.done
}

// offer delivers v, discarding the oldest pending value when the reader
// is behind. Only the watch goroutine sends, so a drained slot stays free.
func (w *Watch[T]) offer(v T) {
	for {
		select {
		case w.ch <- v:
			return
		default:
		}
		select {
		case <-w.ch:
		default:
		}
	}
}

// watchState emits the current result of load and then the fresh result
// after every change. Bursts of changes are coalesced and a slow reader
// only ever sees the latest state.
func watchState[T any](ctx context.Context, eng *engine.Engine, load func(context.Context) (T, error)) (*Watch[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := eng.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := load(ctx)
	if err != nil {
		sub.Unsubscribe()
		cancel()
		return nil, err
	}

	w := &Watch[T]{ch: make(chan T, 1), cancel: cancel, done: make(chan struct{})}
	w.ch <- initial

	go func() {
		defer close(w.done)
		defer close(w.ch)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				open := drain(sub.C())
				v, err := load(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Warn("watch reload failed",
							"component", "companion",
							"domain", string(eng.Domain()),
							"error", err,
						)
					}
				} else {
					w.offer(v)
				}
				if !open {
					return
				}
			}
		}
	}()
	return w, nil
}

// watchChanges emits one value per accepted change that convert maps.
// No initial value is sent.
func watchChanges[T any](ctx context.Context, eng *engine.Engine, convert func(engine.Change) (T, bool)) (*Watch[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := eng.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	w := &Watch[T]{ch: make(chan T, changeBuffer), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer close(w.ch)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					return
				}
				if v, ok := convert(c); ok {
					w.offer(v)
				}
			}
		}
	}()
	return w, nil
}

// drain empties ch without blocking and reports whether it is still open.
func drain[T any](ch <-chan T) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
