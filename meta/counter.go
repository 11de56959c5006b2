// Copyright 2024 Block, Inc.

package meta

import (
	"time"
)

// Counter converts samples of a cumulative counter into a per-second rate.
// The first sample primes it and returns no value. A counter that goes down
// (server restart or counter reset) re-primes it. Counter is not safe for
// concurrent use; the Agent serializes poll cycles.
type Counter struct {
	now    func() time.Time
	last   float64
	lastTs time.Time
	primed bool
}

// NewCounter returns a Counter that uses now to measure elapsed time.
// If now is nil, time.Now is used.
func NewCounter(now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{now: now}
}

// Process records v and returns (v - previous v) / elapsed seconds. It returns
// false if there is no rate: first sample, counter reset, or no time elapsed.
func (c *Counter) Process(v float64) (float64, bool) {
	ts := c.now()
	if !c.primed {
		c.last, c.lastTs, c.primed = v, ts, true
		return 0, false
	}

	delta := v - c.last
	elapsed := ts.Sub(c.lastTs).Seconds()
	if delta < 0 || elapsed <= 0 {
		c.last, c.lastTs = v, ts
		return 0, false
	}

	c.last, c.lastTs = v, ts
	return delta / elapsed, true
}
