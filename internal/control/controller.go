// Package control implements the shared execution controller: three atomic
// bits (active, stop, paused) plus a single cooperative checkpoint,
// CheckAndWait. Every suspendable operation in the engine calls CheckAndWait
// at entry; it is the only cancellation and pause mechanism.
package control

import (
	"sync"
	"sync/atomic"
)

// Controller exposes stop/pause signals to every suspendable node. One
// controller is shared per process and passed into components at
// construction.
type Controller struct {
	active atomic.Bool
	stop   atomic.Bool
	paused atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// New creates an idle controller.
func New() *Controller {
	c := &Controller{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start marks a run active and clears stop/paused.
func (c *Controller) Start() {
	c.active.Store(true)
	c.stop.Store(false)
	c.paused.Store(false)
	c.wake()
}

// Stop requests cooperative cancellation. Paused waiters are released so
// nothing hangs.
func (c *Controller) Stop() {
	c.stop.Store(true)
	c.paused.Store(false)
	c.active.Store(false)
	c.wake()
}

// Pause suspends execution at the next checkpoint. Ignored when idle or
// already stopping.
func (c *Controller) Pause() {
	if !c.active.Load() || c.stop.Load() {
		return
	}
	c.paused.Store(true)
}

// Resume releases a paused run. Resume without a prior pause is a no-op.
func (c *Controller) Resume() {
	c.paused.Store(false)
	c.wake()
}

// Finish marks the run inactive without raising stop. Called by the
// orchestrator when a graph invocation returns.
func (c *Controller) Finish() {
	c.active.Store(false)
	c.paused.Store(false)
	c.wake()
}

// Active reports whether a run currently owns the controller.
func (c *Controller) Active() bool { return c.active.Load() }

// StopRequested reports whether stop has been requested.
func (c *Controller) StopRequested() bool { return c.stop.Load() }

// Paused reports whether execution is paused.
func (c *Controller) Paused() bool { return c.paused.Load() }

// CheckAndWait is the universal suspension point. If stop was requested it
// returns false immediately. If paused it blocks until resumed or stopped,
// then returns accordingly. Otherwise it returns true.
func (c *Controller) CheckAndWait() bool {
	if c.stop.Load() {
		return false
	}
	if !c.paused.Load() {
		return true
	}

	c.mu.Lock()
	for c.paused.Load() && !c.stop.Load() {
		c.cond.Wait()
	}
	c.mu.Unlock()

	return !c.stop.Load()
}

func (c *Controller) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}
