// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"sync"
	"time"
)

// Clock wraps wall-clock time so consensus timers can be driven by tests.
// The zero value follows real time. It is safe for concurrent use.
type Clock struct {
	mu    sync.RWMutex
	faked bool
	time  time.Time
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.faked = true
	c.time = t
}

// Advance moves a pinned clock forward by d. A clock following real time is
// pinned at now+d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.faked {
		c.faked = true
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}

// Sync makes the clock follow real time again.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.faked = false
}

// Time returns the current time on this clock.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.faked {
		return c.time
	}
	return time.Now()
}

// UnixMilli returns milliseconds since the unix epoch, clamped at zero.
func (c *Clock) UnixMilli() uint64 {
	return uint64(max(c.Time().UnixMilli(), 0))
}
