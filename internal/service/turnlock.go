package service

import "sync"

// turnLock serializes whole turns per conversation id. The store already
// guards individual appends; this guards the full
// append-generate-commit sequence so interleaved turns on one conversation
// cannot split each other's user/assistant pairs.
type turnLock struct {
	mu    sync.Mutex
	locks map[string]*turnEntry
}

type turnEntry struct {
	mu   sync.Mutex
	refs int
}

func newTurnLock() *turnLock {
	return &turnLock{locks: make(map[string]*turnEntry)}
}

// acquire blocks until the lock for key is held and returns the release func.
// Entries are refcounted so the map does not grow with dead conversations.
func (t *turnLock) acquire(key string) func() {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &turnEntry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
