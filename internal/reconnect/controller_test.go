package reconnect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireLatest runs the newest live timer as if it elapsed.
func (s *fakeScheduler) fireLatest() bool {
	s.mu.Lock()
	var t *fakeTimer
	for i := len(s.timers) - 1; i >= 0; i-- {
		if !s.timers[i].stopped {
			t = s.timers[i]
			break
		}
	}
	if t != nil {
		t.stopped = true
	}
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.fn()
	return true
}

func newTestController(t *testing.T) (*Controller, *fakeScheduler) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sched := &fakeScheduler{}
	c := New(DefaultConfig(), WithScheduler(sched), WithLogger(logrus.NewEntry(logger)))
	return c, sched
}

func TestConfigDelay(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestController_TenFailuresEndInError(t *testing.T) {
	c, sched := newTestController(t)

	var states []State
	var exhausted int
	var retries int
	c.SetHooks(Hooks{
		StateChanged: func(_, to State) { states = append(states, to) },
		Exhausted:    func(int, error) { exhausted++ },
		Retry:        func() { retries++ },
	})

	require.True(t, c.Begin())
	connErr := errors.New("dial refused")
	for i := 1; i <= 9; i++ {
		require.True(t, c.Failed(connErr))
		assert.Equal(t, StateConnecting, c.State())
		assert.Equal(t, i, c.Attempts())
		live := sched.active()
		require.Len(t, live, 1, "exactly one pending timer after failure %d", i)
		assert.Equal(t, c.Config().Delay(i), live[0].delay)
		require.True(t, sched.fireLatest())
	}
	require.True(t, c.Failed(connErr))

	assert.Equal(t, StateError, c.State())
	assert.True(t, c.State().IsDegraded())
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, 9, retries)
	assert.Empty(t, sched.active(), "no timer after exhaustion")

	want := []State{StateConnecting}
	for i := 0; i < 9; i++ {
		want = append(want, StateConnecting)
	}
	want = append(want, StateError)
	assert.Equal(t, want, states)

	// Further failures in Error are ignored and do not re-fire the hook.
	assert.False(t, c.Failed(connErr))
	assert.Equal(t, 1, exhausted)
}

func TestController_ManualStartResetsAttempts(t *testing.T) {
	c, sched := newTestController(t)

	require.True(t, c.Begin())
	for i := 0; i < 10; i++ {
		c.Failed(errors.New("x"))
	}
	require.Equal(t, StateError, c.State())

	require.True(t, c.Begin())
	assert.Equal(t, StateConnecting, c.State())
	assert.Equal(t, 0, c.Attempts())

	c.Failed(errors.New("x"))
	live := sched.active()
	require.Len(t, live, 1)
	assert.Equal(t, 2*time.Second, live[0].delay)
}

func TestController_BeginIgnoredWhileActive(t *testing.T) {
	c, _ := newTestController(t)

	require.True(t, c.Begin())
	assert.False(t, c.Begin())

	require.True(t, c.Succeeded())
	assert.False(t, c.Begin())
	assert.Equal(t, StateConnected, c.State())
}

func TestController_SuccessResetsAttempts(t *testing.T) {
	c, sched := newTestController(t)

	c.Begin()
	c.Failed(errors.New("a"))
	c.Failed(errors.New("b"))
	require.Equal(t, 2, c.Attempts())

	require.True(t, c.Succeeded())
	assert.Equal(t, 0, c.Attempts())
	assert.Equal(t, StateConnected, c.State())
	assert.Empty(t, sched.active())
}

func TestController_DropSchedulesRetry(t *testing.T) {
	c, sched := newTestController(t)

	var transitions [][2]State
	c.SetHooks(Hooks{StateChanged: func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	}})

	c.Begin()
	c.Succeeded()
	require.True(t, c.Dropped(errors.New("read: connection reset")))

	assert.Equal(t, StateConnecting, c.State())
	assert.Equal(t, 1, c.Attempts())
	live := sched.active()
	require.Len(t, live, 1)
	assert.Equal(t, 2*time.Second, live[0].delay)
	assert.Contains(t, transitions, [2]State{StateConnected, StateConnecting})

	// A drop reported while not connected is ignored.
	assert.False(t, c.Dropped(errors.New("again")))
	assert.Equal(t, 1, c.Attempts())
}

func TestController_StopCancelsPendingTimer(t *testing.T) {
	c, sched := newTestController(t)

	retried := false
	c.SetHooks(Hooks{Retry: func() { retried = true }})

	c.Begin()
	c.Failed(errors.New("x"))
	live := sched.active()
	require.Len(t, live, 1)
	pending := live[0]

	c.Stop()
	c.Stop()

	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, pending.stopped)
	assert.False(t, c.Pending())

	// A callback that raced past Stop must not reconnect.
	pending.fn()
	assert.False(t, retried)
}

func TestController_Info(t *testing.T) {
	c, _ := newTestController(t)

	c.Begin()
	c.Failed(errors.New("handshake timeout"))

	info := c.Info()
	assert.Equal(t, StateConnecting, info.State)
	assert.False(t, info.Degraded)
	assert.Equal(t, 1, info.Attempts)
	assert.Equal(t, 10, info.MaxAttempts)
	assert.Equal(t, "handshake timeout", info.LastError)
	require.NotNil(t, info.NextRetry)
}

func TestController_ExhaustionRecordsCause(t *testing.T) {
	c, _ := newTestController(t)

	var hookErr error
	c.SetHooks(Hooks{Exhausted: func(_ int, err error) { hookErr = err }})

	cause := errors.New("dial tcp: connection refused")
	c.Begin()
	for i := 0; i < 10; i++ {
		c.Failed(cause)
	}
	require.Equal(t, StateError, c.State())

	require.Error(t, hookErr)
	assert.ErrorIs(t, hookErr, ErrAttemptsExhausted)
	assert.ErrorIs(t, hookErr, cause)

	info := c.Info()
	assert.True(t, info.Degraded)
	assert.Contains(t, info.LastError, ErrAttemptsExhausted.Error())
	assert.Contains(t, info.LastError, "connection refused")
	assert.Nil(t, info.NextRetry)
}

func TestController_FireAfterStop(t *testing.T) {
	c, _ := newTestController(t)

	c.Begin()
	c.Failed(errors.New("x"))
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	c.Stop()
	assert.ErrorIs(t, c.fire(gen), ErrStopped)

	// A timer from an older cycle is ignored without error.
	c.Begin()
	assert.NoError(t, c.fire(gen))
	assert.Equal(t, StateConnecting, c.State())
}

func TestController_RejectsInvalidTransition(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := New(DefaultConfig(), WithScheduler(&fakeScheduler{}), WithLogger(logrus.NewEntry(logger)))

	c.mu.Lock()
	ok := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, c.State())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	var te TransitionError
	require.ErrorAs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), &te)
	assert.Equal(t, TransitionError{From: StateDisconnected, To: StateConnected}, te)
}
