package pubsub

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return New(WithLogger(logrus.NewEntry(logger))), hook
}

func TestPublish_DeliversToEverySubscriber(t *testing.T) {
	r, _ := newTestRegistry(t)

	var a, b int
	r.Subscribe("rental_created", func(any) { a++ })
	r.Subscribe("rental_created", func(any) { b++ })
	r.Subscribe("other", func(any) { t.Error("handler for other topic invoked") })

	delivered := r.Publish("rental_created", "payload")

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestPublish_FaultingHandlerIsIsolated(t *testing.T) {
	r, hook := newTestRegistry(t)

	var faults []string
	r.onFault = func(topic string, _ any) { faults = append(faults, topic) }

	calls := make([]int, 3)
	r.Subscribe("t", func(any) { calls[0]++ })
	r.Subscribe("t", func(any) {
		calls[1]++
		panic("boom")
	})
	r.Subscribe("t", func(any) { calls[2]++ })

	delivered := r.Publish("t", 1)

	assert.Equal(t, []int{1, 1, 1}, calls)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"t"}, faults)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	// The registry is still intact after the fault.
	assert.Equal(t, 3, r.Count("t"))
	r.Publish("t", 2)
	assert.Equal(t, []int{2, 2, 2}, calls)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	var first, second int
	unsubFirst := r.Subscribe("t", func(any) { first++ })
	r.Subscribe("t", func(any) { second++ })

	unsubFirst()
	unsubFirst()

	assert.Equal(t, 1, r.Count("t"))
	r.Publish("t", nil)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestUnsubscribe_LastHandlerRemovesTopic(t *testing.T) {
	r, _ := newTestRegistry(t)

	unsub := r.Subscribe("t", func(any) {})
	assert.Equal(t, []string{"t"}, r.Topics())

	unsub()
	assert.Empty(t, r.Topics())
}

func TestSubscribe_NilHandler(t *testing.T) {
	r, _ := newTestRegistry(t)

	unsub := r.Subscribe("t", nil)
	unsub()
	assert.Equal(t, 0, r.Count("t"))
}

func TestClear(t *testing.T) {
	r, _ := newTestRegistry(t)

	called := false
	unsub := r.Subscribe("a", func(any) { called = true })
	r.Subscribe("b", func(any) { called = true })

	r.Clear()
	assert.Equal(t, 0, r.Publish("a", nil))
	assert.Equal(t, 0, r.Publish("b", nil))
	assert.False(t, called)

	// Handles issued before Clear stay safe.
	unsub()
}

func TestPublish_HandlerMaySubscribeDuringDelivery(t *testing.T) {
	r, _ := newTestRegistry(t)

	var late int
	r.Subscribe("t", func(any) {
		r.Subscribe("t", func(any) { late++ })
	})

	r.Publish("t", nil)
	assert.Equal(t, 0, late, "handler added during publish must not see that publish")
	assert.Equal(t, 2, r.Count("t"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := r.Subscribe("t", func(any) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			r.Publish("t", nil)
			unsub()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count("t"))
	assert.GreaterOrEqual(t, total, 20)
}
