package memory

import "sync"

// keyedMutex hands out one mutex per entity. Entries are reference counted
// and dropped when the last holder unlocks, so idle entities cost nothing.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock blocks until the entity's mutex is held and returns its unlock func.
func (k *keyedMutex) Lock(entityID int64) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[entityID]
	if !ok {
		m = &refMutex{}
		k.locks[entityID] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, entityID)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
