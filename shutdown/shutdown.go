// Package shutdown implements the shutdown controller (C13): a
// broadcast-style signal used both by the theater runtime (to bring
// down every actor) and by individual actor runtime loops (to stop one
// actor and its subtree), per spec.md §4.9.
//
// Grounded on the broadcast/fan-out pattern in
// _examples/goadesign-goa-ai/runtime/agent/interrupt (a controller
// coordinating graceful interruption across goroutines), adapted from
// callback registration to channel closing since theater's shutdown is
// unconditional once triggered rather than negotiable.
package shutdown

import "sync"

// Controller broadcasts a single shutdown signal to any number of
// subscribers. It is safe to call Signal concurrently with Done,
// and Signal is idempotent: only the first call has any effect.
type Controller struct {
	mu     sync.Mutex
	done   chan struct{}
	fired  bool
	reason string
}

// New constructs a Controller that has not yet fired.
func New() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Signal triggers shutdown with reason, closing Done() for every current
// and future subscriber. Calling Signal again after the first call is a
// no-op; the original reason is preserved.
func (c *Controller) Signal(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return
	}
	c.fired = true
	c.reason = reason
	close(c.done)
}

// Done returns a channel closed once Signal has been called, suitable
// for use in a select alongside operation/info/control channels in the
// actor runtime loop (C9).
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Fired reports whether Signal has been called, and if so, the reason
// given.
func (c *Controller) Fired() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired, c.reason
}
