// Package locker provides a keyed mutex arena: one mutex per string key,
// created on demand and reclaimed when the last holder releases it. The
// broker keys it by (tenant, provider) to guarantee at most one in-flight
// refresh per connection in a single-instance deployment; multi-instance
// deployments additionally rely on the store's row locks.
package locker

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out per-key mutexes.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed creates an empty keyed mutex arena.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock blocks until the mutex for key is held and returns the unlock
// function. Callers must invoke the returned function exactly once,
// typically via defer.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// Len reports the number of live entries. Used by tests and metrics.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
