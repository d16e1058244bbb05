// Package sim runs two TWS devices against a shared virtual Bluetooth clock.
//
// Each simulated device wires the real manager, TWS service, APS compensator
// and stream pool to an in-memory controller. The two controllers exchange
// peer commands directly, so everything above the controller boundary runs
// the production code paths. Stepping is deterministic: callbacks run inline
// unless a work queue is attached.
package sim

import "sync/atomic"

// Clock is the piconet clock shared by both devices, in 312.5 µs ticks
type Clock struct {
	ticks atomic.Uint32
}

// NewClock creates a clock starting at start
func NewClock(start uint32) *Clock {
	c := &Clock{}
	c.ticks.Store(start)
	return c
}

// Now returns the current tick count
func (c *Clock) Now() uint32 {
	return c.ticks.Load()
}

// Advance moves the clock forward by n ticks and returns the new value.
// The counter wraps like the hardware one.
func (c *Clock) Advance(n uint32) uint32 {
	return c.ticks.Add(n)
}
