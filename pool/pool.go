// Package pool implements a keyed resource pool with named groups.
//
// Every owner (one per pooldb.Database) registers one or more sources per
// group. Items are created lazily up to the group capacity and handed out
// by Pop; callers beyond capacity block until an item is pushed back, the
// timeout expires or the context is cancelled.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultGroup is used when a group name is empty
const DefaultGroup = "default"

var (
	// ErrTimeout is returned by Pop when no item becomes available in time
	ErrTimeout = errors.New("pool: timed out waiting for a free item")
	// ErrUnknownGroup is returned for owners or groups that were never added
	ErrUnknownGroup = errors.New("pool: unknown owner or group")
	// ErrClosed is returned to waiters of an owner that has been removed
	ErrClosed = errors.New("pool: owner removed")
)

// Factory creates a new pool item
type Factory[T any] func(ctx context.Context) (T, error)

// Stats is a snapshot of a group state
type Stats struct {
	Capacity int
	Created  int
	Idle     int
	Waiting  int
}

// Manager is safe for concurrent use
type Manager[T any] struct {
	mu     sync.Mutex
	owners map[string]map[string]*group[T]
}

// New creates an empty manager
func New[T any]() *Manager[T] {
	return &Manager[T]{owners: make(map[string]map[string]*group[T])}
}

func groupName(name string) string {
	if name == "" {
		return DefaultGroup
	}
	return name
}

func (m *Manager[T]) group(owner, name string, create bool) *group[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups, ok := m.owners[owner]
	if !ok {
		if !create {
			return nil
		}
		groups = make(map[string]*group[T])
		m.owners[owner] = groups
	}

	g, ok := groups[groupName(name)]
	if !ok && create {
		g = &group[T]{}
		groups[groupName(name)] = g
	}

	return g
}

// Add registers a source of size items for (owner, group). Several sources
// may share one group; their items are created round-robin.
func (m *Manager[T]) Add(owner string, factory Factory[T], size int, group string) error {
	if factory == nil {
		return fmt.Errorf("pool: nil factory for %s/%s", owner, groupName(group))
	}
	if size <= 0 {
		return fmt.Errorf("pool: invalid size %d for %s/%s", size, owner, groupName(group))
	}

	g := m.group(owner, group, true)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	g.sources = append(g.sources, &source[T]{factory: factory, size: size})
	g.capacity += size

	return nil
}

// AddIdle registers already created items for (owner, group)
func (m *Manager[T]) AddIdle(owner string, group string, items ...T) error {
	if len(items) == 0 {
		return fmt.Errorf("pool: no items for %s/%s", owner, groupName(group))
	}

	g := m.group(owner, group, true)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	src := &source[T]{size: len(items), created: len(items)}
	src.factory = func(context.Context) (T, error) {
		var zero T
		return zero, fmt.Errorf("pool: %s/%s holds pre-built items only", owner, groupName(group))
	}
	g.sources = append(g.sources, src)
	g.capacity += len(items)
	g.created += len(items)
	g.idle = append(g.idle, items...)

	return nil
}

// Pop returns an item of (owner, group). It blocks up to timeout when the
// group is at capacity and all items are in use.
func (m *Manager[T]) Pop(ctx context.Context, owner string, timeout time.Duration, group string) (T, error) {
	var zero T

	g := m.group(owner, group, false)
	if g == nil {
		return zero, fmt.Errorf("%w: %s/%s", ErrUnknownGroup, owner, groupName(group))
	}

	return g.pop(ctx, timeout)
}

// Push returns an item to (owner, group). Items pushed to a removed owner
// are closed when they implement io.Closer.
func (m *Manager[T]) Push(owner string, item T, group string) {
	g := m.group(owner, group, false)
	if g == nil {
		closeItem(item)
		return
	}

	g.push(item)
}

// Remove drops every group of the owner, closing idle items and failing
// pending waiters with ErrClosed.
func (m *Manager[T]) Remove(owner string) error {
	m.mu.Lock()
	groups := m.owners[owner]
	delete(m.owners, owner)
	m.mu.Unlock()

	var errs []error
	for _, g := range groups {
		errs = append(errs, g.close()...)
	}

	return errors.Join(errs...)
}

// Stats reports the state of (owner, group)
func (m *Manager[T]) Stats(owner string, group string) (Stats, bool) {
	g := m.group(owner, group, false)
	if g == nil {
		return Stats{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return Stats{Capacity: g.capacity, Created: g.created, Idle: len(g.idle), Waiting: len(g.waiters)}, true
}

func closeItem(item any) error {
	if c, ok := item.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
