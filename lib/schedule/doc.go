// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule decides, once per tick, which communities are due
// for their daily check-in prompt and opens a new cycle for each.
//
// The tick loop is level-triggered: a community is "due" whenever the
// current minute of its local wall clock (resolved through its IANA
// timezone) equals its configured post time. Because several ticks can
// land inside the same minute, a re-post suppression window keeps a
// community from being posted twice: an existing cycle younger than 20
// hours blocks a new one. Twenty hours rather than twenty-four
// tolerates tick drift and DST offset changes without ever allowing a
// double post for the same calendar trigger.
//
// Opening a cycle is a three-phase protocol. First, cycle-close
// maintenance (streak resets for participants who missed the closing
// cycle) runs and is persisted — under the store's write lock, so a
// crash cannot leave a new cycle whose resets never happened. Second,
// the announce side effects (prompt message, response thread,
// participant ping) run with no store lock held, since they block on
// the network for an unbounded time. Third, the new cycle record is
// written and persisted under the write lock again. If any announce
// step fails, no cycle record is written, and the still-due community
// is retried on the next tick.
//
// Communities are processed independently within a tick: one
// community's failure never stops the sweep.
package schedule
