// Package keymutex provides one mutex per entity id. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
package keymutex

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

type KeyMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func New() *KeyMutex {
	return &KeyMutex{entries: make(map[uuid.UUID]*entry)}
}

// Lock blocks until the mutex for id is held and returns its unlock func.
func (k *KeyMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &entry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}

// Len reports how many ids currently have a live entry.
func (k *KeyMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
