package pool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type source[T any] struct {
	factory Factory[T]
	size    int
	created int
}

// grant is what a blocked Pop receives: an item, a reserved creation slot or an error
type grant[T any] struct {
	item T
	src  *source[T]
	err  error
}

type group[T any] struct {
	mu sync.Mutex

	sources  []*source[T]
	next     int
	capacity int
	created  int

	idle    []T
	waiters []chan grant[T]
	closed  bool
}

// reserve takes a creation slot from the next source with room; g.mu must be held
func (g *group[T]) reserve() *source[T] {
	if g.created >= g.capacity {
		return nil
	}

	for i := 0; i < len(g.sources); i++ {
		idx := (g.next + i) % len(g.sources)
		src := g.sources[idx]
		if src.created < src.size {
			g.next = (idx + 1) % len(g.sources)
			src.created++
			g.created++
			return src
		}
	}

	return nil
}

func (g *group[T]) pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return zero, ErrClosed
	}

	if n := len(g.idle); n > 0 {
		item := g.idle[n-1]
		g.idle[n-1] = zero
		g.idle = g.idle[:n-1]
		g.mu.Unlock()
		return item, nil
	}

	if src := g.reserve(); src != nil {
		g.mu.Unlock()
		return g.create(ctx, src)
	}

	w := make(chan grant[T], 1)
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case gr := <-w:
		return g.accept(ctx, gr)
	case <-timer.C:
		return g.abandon(ctx, w, fmt.Errorf("%w after %v", ErrTimeout, timeout))
	case <-ctx.Done():
		return g.abandon(ctx, w, ctx.Err())
	}
}

func (g *group[T]) accept(ctx context.Context, gr grant[T]) (T, error) {
	var zero T

	switch {
	case gr.err != nil:
		return zero, gr.err
	case gr.src != nil:
		return g.create(ctx, gr.src)
	default:
		return gr.item, nil
	}
}

// abandon unregisters a waiter; a grant that raced with the timeout is still honoured
func (g *group[T]) abandon(ctx context.Context, w chan grant[T], cause error) (T, error) {
	var zero T

	g.mu.Lock()
	for i, x := range g.waiters {
		if x == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return zero, cause
		}
	}
	g.mu.Unlock()

	return g.accept(ctx, <-w)
}

func (g *group[T]) create(ctx context.Context, src *source[T]) (T, error) {
	item, err := src.factory(ctx)
	if err == nil {
		return item, nil
	}

	g.mu.Lock()
	src.created--
	g.created--

	var handOff chan grant[T]
	var slot *source[T]
	if len(g.waiters) > 0 && !g.closed {
		if slot = g.reserve(); slot != nil {
			handOff = g.waiters[0]
			g.waiters = g.waiters[1:]
		}
	}
	g.mu.Unlock()

	if handOff != nil {
		handOff <- grant[T]{src: slot}
	}

	var zero T
	return zero, err
}

func (g *group[T]) push(item T) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = closeItem(item)
		return
	}

	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		w <- grant[T]{item: item}
		return
	}

	g.idle = append(g.idle, item)
	g.mu.Unlock()
}

func (g *group[T]) close() []error {
	g.mu.Lock()
	g.closed = true
	idle := g.idle
	waiters := g.waiters
	g.idle = nil
	g.waiters = nil
	g.mu.Unlock()

	for _, w := range waiters {
		w <- grant[T]{err: ErrClosed}
	}

	var errs []error
	for _, item := range idle {
		if err := closeItem(item); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
