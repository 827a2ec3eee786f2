package triage

import "sync"

// FlowLock admits one flow at a time. The zero value is unlocked.
type FlowLock struct {
	mu     sync.Mutex
	holder string
}

// TryAcquire takes the lock for id and reports whether it succeeded. It never
// blocks.
func (l *FlowLock) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false
	}
	l.holder = id
	return true
}

// Release frees the lock if id holds it. Releasing on behalf of another flow
// is a no-op.
func (l *FlowLock) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == id {
		l.holder = ""
	}
}

// Holder returns the id of the flow holding the lock.
func (l *FlowLock) Holder() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.holder != ""
}
