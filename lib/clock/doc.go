// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// the standard library behavior; Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// The scheduler's tick loop is the main consumer: with a FakeClock a
// test can wait for the loop's ticker to register via WaitForWaiters,
// then walk simulated wall-clock time minute by minute across a
// configured post time without any real sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 8, 59, 0, 0, time.UTC))
//	s := schedule.New(st, announcer, schedule.Options{Clock: c})
//	go s.Run(ctx)
//	c.WaitForWaiters(1)
//	c.Advance(time.Minute) // one scheduler tick, deterministically
package clock
