package handlers

import "sync"

// recordLocks serializes the read-resolve-authorize-persist window per
// (tenant, recordId). Two writers racing on the same record otherwise both
// read history before either writes, and neither supersedes the other.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

// acquire locks the given key and returns the release func. Lock entries are
// reference counted and removed once the last holder releases.
func (l *recordLocks) acquire(tenant, recordID string) func() {
	key := tenant + "\x00" + recordID

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &recordLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
