// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streak implements the check-in streak state machine: it
// validates a candidate response against a community's open cycle,
// applies idempotent streak credit, and runs the cycle-close
// maintenance that resets streaks for participants who missed a day.
//
// The transition logic itself ([Apply]) is a pure function over a
// participant record and a response date. The [Engine] wraps it with
// the gate that decides whether a response is creditable at all
// (correct thread, inside the 24-hour window, registered and active,
// not already credited this cycle) and with the store's atomic
// read-modify-write so concurrent responses for one user serialize.
//
// Long streaks get a bounded grace period: once a streak reaches
// [GraceMinimumStreak] days, a gap of up to [GraceWindowDays] whole
// missed days continues the streak instead of resetting it. The
// allowance is a single rolling window anchored at the first missed
// day — it is not renewed by further small gaps.
package streak
