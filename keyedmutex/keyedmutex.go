// Package keyedmutex implements a mutex whose acquire and release operations
// carry an explicit key. Acquire(k) only succeeds once the mutex is free and
// was last released with key k, which lets two parties hand a resource back
// and forth in a fixed order without any other shared state.
//
// A new Mutex starts released with key 0.
package keyedmutex

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("keyed mutex: acquire timed out")
	ErrNotHeld = errors.New("keyed mutex: release without acquire")
)

// Infinite disables the acquire timeout.
const Infinite time.Duration = -1

type Mutex struct {
	mu      sync.Mutex
	held    bool
	key     uint64
	changed chan struct{} // closed on every release
}

func New() *Mutex {
	return &Mutex{changed: make(chan struct{})}
}

// Acquire blocks until the mutex is free with the given key, the timeout
// elapses or ctx is done. A negative timeout waits forever.
func (m *Mutex) Acquire(ctx context.Context, key uint64, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		m.mu.Lock()
		if !m.held && m.key == key {
			m.held = true
			m.mu.Unlock()
			return nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return ErrTimeout
		}
	}
}

// Release frees the mutex and records key for the next Acquire.
func (m *Mutex) Release(key uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return ErrNotHeld
	}
	m.held = false
	m.key = key
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

// State returns the last released key and whether the mutex is currently held.
func (m *Mutex) State() (key uint64, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, m.held
}
