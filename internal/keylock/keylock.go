// Package keylock provides mutual exclusion scoped to a string key.
package keylock

import (
	"context"
	"sync"
)

// Locker grants exclusive sections per key. Different keys never contend.
type Locker interface {
	// Lock blocks until the section for key is held or ctx ends.
	// The returned unlock func is idempotent.
	Lock(ctx context.Context, key string) (func(), error)
}

// Map is an in-process Locker. Entries are created on first use and removed once
// no holder or waiter references them, so idle keys cost nothing.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewMap creates an empty keyed lock map.
func NewMap() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock implements Locker.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

var _ Locker = (*Map)(nil)
