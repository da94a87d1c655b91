// Package reconnect implements the connection state machine for the chain
// event stream: exponential backoff with a hard cap, a bounded number of
// attempts and a single hand-off to degraded mode on exhaustion.
package reconnect

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrStopped           = errors.New("reconnect controller stopped")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Config holds backoff configuration.
type Config struct {
	// BaseDelay is multiplied by 2^attempt to get the retry delay.
	BaseDelay time.Duration

	// MaxDelay caps every retry delay.
	MaxDelay time.Duration

	// MaxAttempts is the number of consecutive failures that moves the
	// controller to StateError.
	MaxAttempts int
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if c.BaseDelay <= 0 {
		return 0
	}
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay || delay <= 0 {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Hooks are invoked outside the controller lock.
type Hooks struct {
	// Retry is called when a retry timer fires.
	Retry func()

	// StateChanged is called on every transition, including
	// Connecting -> Connecting when a retry is scheduled.
	StateChanged func(from, to State)

	// RetryScheduled is called with the attempt number and its delay.
	RetryScheduled func(attempt int, delay time.Duration)

	// Exhausted is called exactly once per connection cycle when the
	// attempt ceiling is reached.
	Exhausted func(attempts int, lastErr error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHooks sets the controller hooks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) {
		c.hooks = h
	}
}

// Controller is the reconnection state machine. At most one retry timer is
// pending at any instant.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	sched Scheduler
	hooks Hooks
	log   *logrus.Entry

	state     State
	attempts  int
	timer     Timer
	gen       uint64
	lastErr   error
	nextRetry time.Time
}

// New creates a controller in StateDisconnected.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg,
		sched: wallClock{},
		log:   logrus.NewEntry(logrus.StandardLogger()).WithField("component", "reconnect"),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHooks replaces the hooks. It is meant to be called during wiring,
// before Begin.
func (c *Controller) SetHooks(h Hooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = h
}

// Config returns the backoff configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Begin starts a new connection cycle: Disconnected or Error -> Connecting,
// with the attempt counter reset to zero. It returns false when a cycle is
// already running or the stream is connected.
func (c *Controller) Begin() bool {
	c.mu.Lock()
	if !c.state.CanStart() {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.cancelTimerLocked()
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	hooks := c.hooks
	c.mu.Unlock()

	if hooks.StateChanged != nil {
		hooks.StateChanged(from, StateConnecting)
	}
	return true
}

// Succeeded records a completed handshake: Connecting -> Connected. The
// attempt counter resets only here.
func (c *Controller) Succeeded() bool {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.cancelTimerLocked()
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(StateConnected)
	hooks := c.hooks
	c.mu.Unlock()

	c.log.Info("chain stream connected")
	if hooks.StateChanged != nil {
		hooks.StateChanged(StateConnecting, StateConnected)
	}
	return true
}

// Failed records a failed connection attempt. Timeouts count as failures.
// It schedules one retry, or moves to StateError once the attempt ceiling
// is reached. Failures outside StateConnecting are ignored.
func (c *Controller) Failed(err error) bool {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.recordFailureLocked(err)
	return true
}

// Dropped records the loss of a live connection: Connected -> Connecting,
// followed by the same backoff as a failed attempt.
func (c *Controller) Dropped(err error) bool {
	c.mu.Lock()
	if c.state != StateConnected || !c.setStateLocked(StateConnecting) {
		c.mu.Unlock()
		return false
	}
	hooks := c.hooks
	c.mu.Unlock()

	c.log.WithError(err).Warn("chain stream dropped")
	if hooks.StateChanged != nil {
		hooks.StateChanged(StateConnected, StateConnecting)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.recordFailureLocked(err)
	return true
}

// recordFailureLocked must be called with c.mu held; it releases it.
func (c *Controller) recordFailureLocked(err error) {
	c.attempts++
	c.lastErr = err
	attempt := c.attempts
	hooks := c.hooks

	if c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts {
		c.cancelTimerLocked()
		c.setStateLocked(StateError)
		c.nextRetry = time.Time{}
		if err != nil {
			c.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		} else {
			c.lastErr = ErrAttemptsExhausted
		}
		err = c.lastErr
		c.mu.Unlock()

		c.log.WithError(err).WithFields(logrus.Fields{
			"attempts": attempt,
			"degraded": true,
		}).Error("reconnect attempts exhausted")
		if hooks.StateChanged != nil {
			hooks.StateChanged(StateConnecting, StateError)
		}
		if hooks.Exhausted != nil {
			hooks.Exhausted(attempt, err)
		}
		return
	}

	delay := c.cfg.Delay(attempt)
	c.cancelTimerLocked()
	gen := c.gen
	c.nextRetry = time.Now().Add(delay)
	c.timer = c.sched.AfterFunc(delay, func() {
		if err := c.fire(gen); err != nil {
			c.log.WithError(err).Debug("retry timer fired after stop")
		}
	})
	c.mu.Unlock()

	c.log.WithError(err).WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warn("chain stream connection failed, retry scheduled")
	if hooks.StateChanged != nil {
		hooks.StateChanged(StateConnecting, StateConnecting)
	}
	if hooks.RetryScheduled != nil {
		hooks.RetryScheduled(attempt, delay)
	}
}

// fire runs the retry hook for timer generation gen. It returns ErrStopped
// when the controller was stopped after the timer was armed. A timer
// superseded by a newer cycle is ignored.
func (c *Controller) fire(gen uint64) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrStopped
	}
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.timer = nil
	c.nextRetry = time.Time{}
	retry := c.hooks.Retry
	c.mu.Unlock()

	if retry != nil {
		retry()
	}
	return nil
}

// setStateLocked applies a transition checked against CanTransition. An
// invalid transition is logged and leaves the state unchanged.
func (c *Controller) setStateLocked(to State) bool {
	if !CanTransition(c.state, to) {
		c.log.WithError(TransitionError{From: c.state, To: to}).Error("connection state change rejected")
		return false
	}
	c.state = to
	return true
}

// cancelTimerLocked stops the pending timer and invalidates any callback
// that already fired but has not taken the lock yet.
func (c *Controller) cancelTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Stop forces StateDisconnected from any state and cancels the pending
// timer. It is safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	from := c.state
	c.cancelTimerLocked()
	c.setStateLocked(StateDisconnected)
	c.nextRetry = time.Time{}
	hooks := c.hooks
	c.mu.Unlock()

	if from != StateDisconnected && hooks.StateChanged != nil {
		hooks.StateChanged(from, StateDisconnected)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current consecutive failure count.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Pending reports whether a retry timer is scheduled.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Info is a point-in-time summary for status endpoints.
type Info struct {
	State       State      `json:"state"`
	Degraded    bool       `json:"degraded"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetry   *time.Time `json:"next_retry,omitempty"`
}

// Info returns a snapshot of the controller.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := Info{
		State:       c.state,
		Degraded:    c.state.IsDegraded(),
		Attempts:    c.attempts,
		MaxAttempts: c.cfg.MaxAttempts,
	}
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	if !c.nextRetry.IsZero() {
		next := c.nextRetry
		info.NextRetry = &next
	}
	return info
}
