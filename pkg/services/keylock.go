package services

import "sync"

// keyLock provides non-blocking per-key advisory locks. A caller that fails
// to acquire must not wait; operations like regenerate fail fast with a
// conflict instead of queueing behind the winner.
type keyLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newKeyLock() *keyLock {
	return &keyLock{held: make(map[string]bool)}
}

// TryAcquire takes the lock for key if free, returning whether it was taken.
func (l *keyLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

// Release frees the lock for key.
func (l *keyLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
