package subscription

import (
	"encoding/json"
	"sync"

	"github.com/R3E-Network/rentstream/internal/chain"
)

const defaultWindowSize = 4096

// eventWindow remembers the keys of the most recently handled events, so an
// event delivered both by the resumed stream and by the catch-up walk is
// handled once.
type eventWindow struct {
	mu   sync.Mutex
	keys map[string]struct{}
	ring []string
	next int
}

func newEventWindow(size int) *eventWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &eventWindow{
		keys: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// add records key and reports whether it was new. The oldest key is
// forgotten once the window is full.
func (w *eventWindow) add(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[key]; ok {
		return false
	}
	if old := w.ring[w.next]; old != "" {
		delete(w.keys, old)
	}
	w.ring[w.next] = key
	w.next = (w.next + 1) % len(w.ring)
	w.keys[key] = struct{}{}
	return true
}

// eventKey identifies a notification by transaction, name and state. Events
// without a transaction hash get no key and are never deduplicated.
func eventKey(ev *chain.ContractEvent) string {
	if ev.TxHash == "" {
		return ""
	}
	state, err := json.Marshal(ev.State)
	if err != nil {
		return ""
	}
	return ev.TxHash + "/" + ev.EventName + "/" + string(state)
}
