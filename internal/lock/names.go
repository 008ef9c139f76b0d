package lock

import "sync"

// NameLocks is a set of reader/writer locks keyed by file name.
// The peer server reads under RLock while opening a file; the sync path
// swaps fetched content into place under Lock.
type NameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	rw   sync.RWMutex
	refs int
}

// NewNameLocks creates an empty lock set
func NewNameLocks() *NameLocks {
	return &NameLocks{locks: make(map[string]*nameLock)}
}

func (n *NameLocks) acquire(name string) *nameLock {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[name]
	if !ok {
		l = &nameLock{}
		n.locks[name] = l
	}
	l.refs++
	return l
}

func (n *NameLocks) release(name string, l *nameLock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(n.locks, name)
	}
}

// RLock takes the shared lock for name and returns its release function
func (n *NameLocks) RLock(name string) func() {
	l := n.acquire(name)
	l.rw.RLock()
	return func() {
		l.rw.RUnlock()
		n.release(name, l)
	}
}

// Lock takes the exclusive lock for name and returns its release function
func (n *NameLocks) Lock(name string) func() {
	l := n.acquire(name)
	l.rw.Lock()
	return func() {
		l.rw.Unlock()
		n.release(name, l)
	}
}

// Len returns the number of names currently locked or waited on
func (n *NameLocks) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
