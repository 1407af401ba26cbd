package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrConcurrentRequest indicates a request was started while another one was
// still in flight on the same controller.
var ErrConcurrentRequest = errors.New("a request is already in flight for this session")

// State is the lifecycle phase of a controller's current request.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Controller owns at most one in-flight request at a time. Starting a request
// allocates a token bound to a derived context; signalling the token aborts
// the underlying network operation and moves the request to the cancelled
// terminal state. Signals outside the in-flight state have no effect.
type Controller struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// NewController returns an idle controller.
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// Start transitions to in-flight and returns a cancellable context threaded
// into every network call the request makes, plus the token that governs its
// terminal state. Starting while another request is in flight is a caller
// error.
func (c *Controller) Start(parent context.Context) (context.Context, *Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateInFlight {
		return nil, nil, ErrConcurrentRequest
	}

	ctx, cancelFn := context.WithCancel(parent)
	c.state = StateInFlight
	c.cancel = cancelFn

	return ctx, &Token{controller: c}, nil
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel aborts the in-flight request, if any. It reports whether a request
// was actually cancelled; once a request has terminated the signal is inert.
func (c *Controller) Cancel() bool {
	return c.transition(StateCancelled)
}

// transition moves in-flight to a terminal state, releasing the derived
// context. Any other starting state leaves the controller untouched, so a
// cancelled request can never resurrect a result.
func (c *Controller) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInFlight {
		return false
	}

	c.state = to
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

// Token is the handle bound to exactly one in-flight request.
type Token struct {
	controller *Controller
}

// Signal aborts the owning request. Signalling more than once, or after the
// request has terminated, has no effect.
func (t *Token) Signal() {
	t.controller.Cancel()
}

// Complete records a successful result. It reports false when the request
// was cancelled first, in which case the result must be discarded.
func (t *Token) Complete() bool {
	return t.controller.transition(StateCompleted)
}

// Fail records a failed result. It reports false when the request was
// cancelled first, in which case the failure must not be surfaced as one.
func (t *Token) Fail() bool {
	return t.controller.transition(StateFailed)
}
