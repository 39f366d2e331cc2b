// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. After, NewTicker, and Sleep register
// pending waiters that fire when the clock advances past their
// deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.waitersChanged = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Sleeps and timers block until the clock is
// advanced past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is a pending After, Sleep, or Ticker operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool

	// fired marks a one-shot waiter that has already delivered,
	// preventing double delivery on overlapping Advance calls.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// NewTicker returns a Ticker whose ticks are driven by Advance. Each
// Advance delivers at most one tick per elapsed interval, matching the
// drop-on-slow-consumer behavior of time.Ticker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until the clock is advanced past the current time plus
// d. If d <= 0, Sleep returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// deadline falls within the advanced window in deadline order. Tickers
// are rescheduled after each delivery, so a single large Advance can
// deliver multiple ticks (subject to the capacity-1 channel dropping
// ticks the consumer has not drained).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		waiter := c.earliestDue(target)
		if waiter == nil {
			break
		}
		c.current = waiter.deadline
		select {
		case waiter.channel <- waiter.deadline:
		default:
			// Consumer has not drained the previous delivery.
		}
		if waiter.interval > 0 {
			waiter.deadline = waiter.deadline.Add(waiter.interval)
		} else {
			waiter.fired = true
		}
	}

	c.current = target
	c.collectFired()
}

// earliestDue returns the unstopped, unfired waiter with the earliest
// deadline at or before target, or nil. Caller holds c.mu.
func (c *FakeClock) earliestDue(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired || waiter.deadline.After(target) {
			continue
		}
		if earliest == nil || waiter.deadline.Before(earliest.deadline) {
			earliest = waiter
		}
	}
	return earliest
}

// collectFired removes fired and stopped waiters. Caller holds c.mu.
func (c *FakeClock) collectFired() {
	kept := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.fired && !waiter.stopped {
			kept = append(kept, waiter)
		}
	}
	c.waiters = kept
}

// WaitForWaiters blocks until at least count waiters (sleeps, timers,
// or tickers) are registered. Use this to synchronize with a goroutine
// that registers its timer asynchronously, before calling Advance.
func (c *FakeClock) WaitForWaiters(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < count {
		c.waitersChanged.Wait()
	}
}

// pendingLocked counts live waiters. Caller holds c.mu.
func (c *FakeClock) pendingLocked() int {
	pending := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			pending++
		}
	}
	return pending
}

// Deadlines returns the deadlines of all live waiters in ascending
// order. Intended for test diagnostics.
func (c *FakeClock) Deadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var deadlines []time.Time
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			deadlines = append(deadlines, waiter.deadline)
		}
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines
}
