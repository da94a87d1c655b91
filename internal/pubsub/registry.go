// Package pubsub provides the topic-keyed publish/subscribe registry that
// decouples chain event arrival from the consumers reacting to it.
// The registry holds no domain knowledge: topics are plain strings and
// payloads are opaque values.
package pubsub

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives a published payload.
type Handler func(payload any)

// FaultHook observes a handler that panicked during Publish.
type FaultHook func(topic string, recovered any)

// Registry maps topics to sets of handlers. Every handler registered at
// publish time is invoked exactly once per Publish call.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	nextID uint64

	log     *logrus.Entry
	onFault FaultHook
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for handler faults.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithFaultHook registers a hook called after a handler panic is recovered.
func WithFaultHook(hook FaultHook) Option {
	return func(r *Registry) {
		r.onFault = hook
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		topics: make(map[string]map[uint64]Handler),
		log:    logrus.NewEntry(logrus.StandardLogger()).WithField("component", "pubsub"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers handler under topic and returns a function that
// removes exactly that registration. Calling the returned function more than
// once is a no-op.
func (r *Registry) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[uint64]Handler)
		r.topics[topic] = set
	}
	set[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		set, ok := r.topics[topic]
		if !ok {
			return
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
}

// Publish synchronously invokes every handler registered for topic. A
// panicking handler is recovered and logged; the remaining handlers still run.
// It returns the number of handlers that completed without fault.
func (r *Registry) Publish(topic string, payload any) int {
	r.mu.RLock()
	set := r.topics[topic]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	delivered := 0
	for _, h := range handlers {
		if r.invoke(topic, h, payload) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) invoke(topic string, h Handler, payload any) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			r.log.WithFields(logrus.Fields{
				"topic": topic,
				"panic": fmt.Sprint(rec),
			}).Error("subscriber handler failed")
			if r.onFault != nil {
				r.onFault(topic, rec)
			}
		}
	}()
	h(payload)
	return true
}

// Count returns the number of handlers registered for topic.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics returns the topics that currently have at least one handler.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	return out
}

// Clear removes every topic and handler. Unsubscribe functions obtained
// before Clear remain safe to call.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = make(map[string]map[uint64]Handler)
}
