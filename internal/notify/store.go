package notify

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIndexOutOfRange is returned by MarkRead for an index outside the inbox.
var ErrIndexOutOfRange = errors.New("notification index out of range")

// Store keeps per-user inboxes, read history and preferences in memory.
type Store struct {
	mu         sync.RWMutex
	inbox      map[string][]Notification
	history    map[string][]Notification
	prefs      map[string]Preferences
	maxInbox   int
	maxHistory int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxInbox bounds each inbox. On overflow the oldest entries move to
// the read history instead of being dropped. Zero means unbounded.
func WithMaxInbox(n int) StoreOption {
	return func(s *Store) { s.maxInbox = n }
}

// WithMaxHistory bounds each read history. Zero means unbounded.
func WithMaxHistory(n int) StoreOption {
	return func(s *Store) { s.maxHistory = n }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		inbox:      make(map[string][]Notification),
		history:    make(map[string][]Notification),
		prefs:      make(map[string]Preferences),
		maxInbox:   500,
		maxHistory: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds n to the end of user's inbox.
func (s *Store) Append(user string, n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.inbox[user], n)
	if s.maxInbox > 0 && len(list) > s.maxInbox {
		overflow := len(list) - s.maxInbox
		s.history[user] = trimFront(append(s.history[user], list[:overflow]...), s.maxHistory)
		list = append([]Notification(nil), list[overflow:]...)
	}
	s.inbox[user] = list
}

// Notifications returns a copy of user's inbox, oldest first.
func (s *Store) Notifications(user string) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification{}, s.inbox[user]...)
}

// Clear empties user's inbox. Read history is kept.
func (s *Store) Clear(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inbox, user)
}

// MarkRead removes the entry at index from user's inbox and moves it to
// the read history. Later indices shift down by one.
func (s *Store) MarkRead(user string, index int) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.inbox[user]
	if index < 0 || index >= len(list) {
		return Notification{}, fmt.Errorf("%w: %d (inbox has %d)", ErrIndexOutOfRange, index, len(list))
	}
	n := list[index]
	rest := make([]Notification, 0, len(list)-1)
	rest = append(rest, list[:index]...)
	rest = append(rest, list[index+1:]...)
	if len(rest) == 0 {
		delete(s.inbox, user)
	} else {
		s.inbox[user] = rest
	}
	s.history[user] = trimFront(append(s.history[user], n), s.maxHistory)
	return n, nil
}

// History returns a copy of user's read notifications, oldest first.
func (s *Store) History(user string) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification{}, s.history[user]...)
}

// Preferences returns user's preferences, or the defaults if none were set.
func (s *Store) Preferences(user string) Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[user]; ok {
		return p
	}
	return DefaultPreferences()
}

// SetPreferences replaces user's preferences.
func (s *Store) SetPreferences(user string, p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[user] = p
}

// Stats is a summary of the store size.
type Stats struct {
	Users         int `json:"users"`
	Notifications int `json:"notifications"`
}

// Stats returns the number of users with a non-empty inbox and the total
// number of unread notifications.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Users: len(s.inbox)}
	for _, list := range s.inbox {
		st.Notifications += len(list)
	}
	return st
}

func trimFront(list []Notification, max int) []Notification {
	if max <= 0 || len(list) <= max {
		return list
	}
	return append([]Notification(nil), list[len(list)-max:]...)
}
