package attendance

import "sync"

// recordKey identifies the record a punch may create or close.
type recordKey struct {
	EmployeeID EmployeeID
	Date       WorkDate
}

// keyLocker hands out one mutex per recordKey. Entries are reference counted
// and dropped when the last holder unlocks, so the map only holds keys with
// punches in flight.
type keyLocker struct {
	mu    sync.Mutex
	locks map[recordKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[recordKey]*keyLock)}
}

// Lock blocks until k is held and returns the matching unlock func.
func (l *keyLocker) Lock(k recordKey) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries.
func (l *keyLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
