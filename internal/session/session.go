// Package session tracks which user is active on this instance so the
// notification dispatcher can decide when to show an on-screen toast.
package session

import "sync"

// Tracker holds the active user's address. The zero value has no active
// user.
type Tracker struct {
	mu     sync.RWMutex
	active string
	onSet  []func(prev, next string)
}

// NewTracker creates a tracker with an optional initial active user.
func NewTracker(active string) *Tracker {
	return &Tracker{active: active}
}

// ActiveUser returns the active user's address, or "" if none.
func (t *Tracker) ActiveUser() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// SetActiveUser switches the active user. An empty address signs out.
func (t *Tracker) SetActiveUser(addr string) {
	t.mu.Lock()
	prev := t.active
	t.active = addr
	hooks := append([]func(string, string){}, t.onSet...)
	t.mu.Unlock()

	if prev == addr {
		return
	}
	for _, fn := range hooks {
		fn(prev, addr)
	}
}

// OnChange registers fn to run after the active user changes.
func (t *Tracker) OnChange(fn func(prev, next string)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSet = append(t.onSet, fn)
}
