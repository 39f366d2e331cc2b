// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streak

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/checkin/lib/clock"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/store"
)

const (
	// GraceMinimumStreak is the streak length at which the grace
	// period becomes available.
	GraceMinimumStreak = 30

	// GraceWindowDays is the maximum number of whole missed days a
	// grace period tolerates.
	GraceWindowDays = 2
)

// Outcome classifies the result of applying a response to a
// participant record.
type Outcome int

const (
	// OutcomeFirst is a participant's first-ever credited check-in.
	OutcomeFirst Outcome = iota

	// OutcomeDuplicate means the participant already checked in on
	// the response date. No mutation.
	OutcomeDuplicate

	// OutcomeContinued is a consecutive-day check-in.
	OutcomeContinued

	// OutcomeGraceContinued is a check-in after a short gap covered
	// by the grace period.
	OutcomeGraceContinued

	// OutcomeReset is a check-in after a gap the grace period does
	// not cover: the streak restarts at 1.
	OutcomeReset

	// OutcomeAnomaly means the response date precedes the last
	// check-in date. The record is not mutated.
	OutcomeAnomaly
)

// String returns the outcome's log label.
func (o Outcome) String() string {
	switch o {
	case OutcomeFirst:
		return "first"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeContinued:
		return "continued"
	case OutcomeGraceContinued:
		return "grace_continued"
	case OutcomeReset:
		return "reset"
	case OutcomeAnomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// Apply transitions a participant's streak counters for a response on
// responseDate. It mutates p in place and reports what happened. The
// caller supplies now for the UpdatedAt stamp.
//
// Apply does not check registration, cycle membership, or deadlines —
// that gating belongs to [Engine.HandleResponse]. It does handle the
// same-date duplicate case for safety even though the engine's
// per-cycle dedup normally filters those out first.
func Apply(p *store.Participant, responseDate store.Date, now time.Time) Outcome {
	outcome := transition(p, responseDate)

	if outcome == OutcomeDuplicate || outcome == OutcomeAnomaly {
		return outcome
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	p.UpdatedAt = now
	return outcome
}

func transition(p *store.Participant, responseDate store.Date) Outcome {
	last := p.LastCheckin

	switch {
	case last.IsZero():
		p.CurrentStreak = 1
		p.LastCheckin = responseDate
		return OutcomeFirst

	case last == responseDate:
		return OutcomeDuplicate

	case last.After(responseDate):
		return OutcomeAnomaly

	case responseDate.DaysSince(last) == 1:
		p.CurrentStreak++
		p.LastCheckin = responseDate
		return OutcomeContinued

	case graceEligible(p, responseDate):
		p.CurrentStreak++
		if p.GraceStart.IsZero() {
			p.GraceStart = last.AddDays(1)
		}
		p.LastCheckin = responseDate
		return OutcomeGraceContinued

	default:
		p.CurrentStreak = 1
		p.LastCheckin = responseDate
		p.GraceStart = store.Date{}
		return OutcomeReset
	}
}

// graceEligible reports whether a gap ending at gapEnd (the date the
// participant is being evaluated on) is covered by the grace period.
// The gap is the whole days between p.LastCheckin and gapEnd,
// exclusive on both ends.
func graceEligible(p *store.Participant, gapEnd store.Date) bool {
	if p.CurrentStreak < GraceMinimumStreak {
		return false
	}
	daysMissed := gapEnd.DaysSince(p.LastCheckin) - 1
	if daysMissed > GraceWindowDays {
		return false
	}
	// An already-open grace window is a single rolling allowance
	// anchored at the first missed day; it is not renewed by each
	// subsequent small gap.
	if !p.GraceStart.IsZero() && gapEnd.DaysSince(p.GraceStart) > GraceWindowDays {
		return false
	}
	return true
}

// Engine validates inbound responses against the store's open cycles
// and applies streak credit.
type Engine struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewEngine creates an Engine over the shared store.
func NewEngine(st *store.Store, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, clock: clk, logger: logger}
}

// HandleResponse processes a candidate check-in: a message from user
// in thread at timestamp (UTC), within community. Returns true when
// the response was credited.
//
// Uncreditable responses are expected traffic, not faults: messages
// outside the cycle thread, past the 24-hour deadline, from
// unregistered or inactive users, or duplicating an already-credited
// cycle are dropped with a debug log and no state change. A response
// dated before the participant's last check-in is a clock anomaly and
// is logged at warning level.
func (e *Engine) HandleResponse(community ref.RoomID, thread ref.EventID, user ref.UserID, timestamp time.Time) bool {
	cycle, ok := e.store.Cycle(community)
	if !ok || thread.IsZero() || thread != cycle.ThreadID {
		e.logger.Debug("response outside cycle thread",
			"community", community, "user", user, "thread", thread)
		return false
	}
	if timestamp.After(cycle.Deadline()) {
		e.logger.Debug("response after cycle deadline",
			"community", community, "user", user,
			"deadline", cycle.Deadline(), "timestamp", timestamp)
		return false
	}

	responseDate := store.DateOf(timestamp.UTC())
	cycleDate := store.DateOf(cycle.PostedAt.UTC())
	now := e.clock.Now().UTC()

	var (
		outcome   Outcome
		inactive  bool
		duplicate bool
		credited  bool
	)

	// The registration, dedup, and transition checks run inside one
	// write-lock acquisition so two copies of the same response (or
	// two responses racing for the same user) serialize.
	updated, found := e.store.UpdateParticipant(community, user, func(p *store.Participant) {
		if !p.Active {
			inactive = true
			return
		}
		// Already credited on or after the cycle's posting date means
		// this cycle is done for the user.
		if !p.LastCheckin.IsZero() && !p.LastCheckin.Before(cycleDate) {
			duplicate = true
			return
		}
		outcome = Apply(p, responseDate, now)
		credited = outcome != OutcomeDuplicate && outcome != OutcomeAnomaly
	})

	switch {
	case !found:
		e.logger.Debug("response from unregistered user",
			"community", community, "user", user)
	case inactive:
		e.logger.Debug("response from inactive participant",
			"community", community, "user", user)
	case duplicate:
		e.logger.Debug("response already credited this cycle",
			"community", community, "user", user)
	case outcome == OutcomeAnomaly:
		e.logger.Warn("response dated before last check-in, ignoring",
			"community", community, "user", user, "response_date", responseDate)
	case credited:
		e.logger.Info("check-in credited",
			"community", community, "user", user,
			"outcome", outcome, "streak", updated.CurrentStreak)
		if err := e.store.Persist(); err != nil {
			e.logger.Error("persisting after check-in credit", "error", err)
		}
	default:
		e.logger.Debug("response not creditable",
			"community", community, "user", user, "outcome", outcome)
	}
	return credited
}

// ResetMissed runs cycle-close maintenance for a community: every
// active participant whose last check-in is older than the day before
// postDate, and who is not covered by the grace period, has their
// current streak reset to zero. Returns the number of participants
// reset.
//
// The scheduler invokes this, and persists, before opening the next
// cycle so a crash between the two cannot skip a reset.
func (e *Engine) ResetMissed(community ref.RoomID, postDate store.Date) int {
	yesterday := postDate.AddDays(-1)
	now := e.clock.Now().UTC()

	reset := e.store.UpdateParticipants(community, func(p *store.Participant) bool {
		if !p.Active || p.LastCheckin.IsZero() {
			return false
		}
		if !p.LastCheckin.Before(yesterday) {
			return false
		}
		if graceEligible(p, postDate) {
			return false
		}
		p.CurrentStreak = 0
		p.GraceStart = store.Date{}
		p.UpdatedAt = now
		return true
	})

	if reset > 0 {
		e.logger.Info("streaks reset for missed check-ins",
			"community", community, "count", reset)
	}
	return reset
}
