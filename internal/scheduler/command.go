package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateQueued State = iota
	StateDispatched
	StateResolved
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateDispatched:
		return "dispatched"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RetryTracker follows the outcome of the commands issued for one
// requester. tile.LayerUpdateState implements it.
type RetryTracker interface {
	Pending()
	Success()
	Failure(err error)
	Cancelled()
	Definitive() bool
}

// Command is one asynchronous fetch and decode operation. Its fields must
// not change once submitted. Cancelled, PriorityFunc, OnResult and OnError
// are only ever called from the goroutine driving the scheduler.
type Command struct {
	Protocol string
	Layer    string
	Key      string

	// Priority orders the queue, higher first. PriorityFunc, when set,
	// refreshes it before each dispatch round.
	Priority     float64
	PriorityFunc func() float64

	// Request is handed to the provider untouched.
	Request any

	Cancelled func() bool
	Tracker   RetryTracker

	OnResult func(result any)
	OnError  func(err error)

	state   atomic.Int32
	handle  Handle
	index   int
	aborted bool
	cancel  context.CancelFunc
	started time.Time
}

type Handle uint64

func (c *Command) State() State {
	return State(c.state.Load())
}

func (c *Command) Handle() Handle {
	return c.handle
}

func (c *Command) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Command) isCancelled() bool {
	return c.aborted || (c.Cancelled != nil && c.Cancelled())
}
