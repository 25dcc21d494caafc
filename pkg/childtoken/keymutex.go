package childtoken

import "sync"

// keyMutex is a lazily-created, reference-counted map of per-key mutexes
// (spec.md §9: "Represent as a keyed-mutex map with lazy creation and
// reference-counted removal; the map itself is guarded by a coarse lock").
// It is deliberately not a singleflight group: holding a per-key mutex
// across I/O (the database/KV round trips in createInternalToken and
// createNotebookToken) is the point, not an accident.
type keyMutex struct {
	mu      sync.Mutex
	entries map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu  sync.Mutex
	ref int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{entries: make(map[string]*refCountedMutex)}
}

// Lock acquires the mutex for key, creating it if necessary, and returns an
// unlock function that releases it and removes the entry once no other
// caller still holds a reference to it.
func (km *keyMutex) Lock(key string) func() {
	km.mu.Lock()
	entry, ok := km.entries[key]
	if !ok {
		entry = &refCountedMutex{}
		km.entries[key] = entry
	}
	entry.ref++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.ref--
		if entry.ref == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}
