package api

import (
	"sync/atomic"
	"time"
)

// eventClock stamps change events with strictly increasing unix nanoseconds,
// so subscribers can order the events of one instance even when the wall
// clock stalls or steps back.
type eventClock struct {
	now  func() time.Time
	last atomic.Int64
}

func (c *eventClock) Next() int64 {
	for {
		ts := c.wall()
		last := c.last.Load()
		if ts <= last {
			ts = last + 1
		}
		if c.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

func (c *eventClock) wall() int64 {
	if c.now == nil {
		return time.Now().UnixNano()
	}
	return c.now().UnixNano()
}
