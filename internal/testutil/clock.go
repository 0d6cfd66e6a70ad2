package testutil

import (
	"sync/atomic"
	"time"
)

// Epoch is the instant every Clock starts at unless told otherwise.
var Epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// Clock is a manual time source. Pass clock.Now wherever a component takes
// a func() time.Time.
type Clock struct {
	nanos atomic.Int64
	step  atomic.Int64
}

// NewClock returns a Clock at Epoch, or at start when given.
func NewClock(start ...time.Time) *Clock {
	t := Epoch
	if len(start) > 0 {
		t = start[0]
	}
	c := &Clock{}
	c.nanos.Store(t.UnixNano())
	return c
}

// Now returns the current instant. With a step set, each call also moves
// the clock forward by that step, so successive readings are distinct.
func (c *Clock) Now() time.Time {
	step := c.step.Load()
	if step == 0 {
		return time.Unix(0, c.nanos.Load()).UTC()
	}
	return time.Unix(0, c.nanos.Add(step)-step).UTC()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// Step makes every Now call advance the clock by d. Zero stops it.
func (c *Clock) Step(d time.Duration) { c.step.Store(int64(d)) }
