// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bureau-foundation/checkin/lib/clock"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/render"
	"github.com/bureau-foundation/checkin/lib/schedule"
	"github.com/bureau-foundation/checkin/lib/store"
)

// GoalLimit is the maximum goal length in runes.
const GoalLimit = 500

// Defaults applied when an admin command creates a community's config
// for the first time. Scheduling stays disabled until the announce
// room is set, so these only matter once it is.
const (
	defaultTimezone  = "UTC"
	defaultDailyTime = "09:00"
)

// UsageError is a validation failure whose message is addressed to
// the chat user who issued the command.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// Handler executes commands against the shared store.
type Handler struct {
	store *store.Store
	clock clock.Clock
}

// NewHandler creates a Handler over the shared store.
func NewHandler(st *store.Store, clk clock.Clock) *Handler {
	return &Handler{store: st, clock: clk}
}

// RegisterGoal registers the user for daily check-ins with the given
// goal, or updates the goal if they are already active. Re-registering
// after a deregistration starts the current streak over; the longest
// streak survives.
func (h *Handler) RegisterGoal(community ref.RoomID, user ref.UserID, goal string) (string, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return "", usageErrorf("A goal is required. Usage: register <goal>")
	}
	if utf8.RuneCountInString(goal) > GoalLimit {
		return "", usageErrorf("Goal must be %d characters or less.", GoalLimit)
	}

	now := h.clock.Now().UTC()
	wasActive := false
	updated, found := h.store.UpdateParticipant(community, user, func(p *store.Participant) {
		wasActive = p.Active
		p.Goal = goal
		p.UpdatedAt = now
		if !p.Active {
			p.Active = true
			p.CurrentStreak = 0
			p.LastCheckin = store.Date{}
			p.GraceStart = store.Date{}
		}
	})
	if !found {
		updated = store.Participant{
			UserID:    user,
			Goal:      goal,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		h.store.UpsertParticipant(community, updated)
	}

	if err := h.store.Persist(); err != nil {
		return "", fmt.Errorf("persisting registration: %w", err)
	}
	if wasActive {
		return render.GoalUpdated(updated.Goal), nil
	}
	return render.Registered(updated.Goal), nil
}

// EditGoal is an alias for RegisterGoal with clearer intent.
func (h *Handler) EditGoal(community ref.RoomID, user ref.UserID, goal string) (string, error) {
	return h.RegisterGoal(community, user, goal)
}

// Deregister removes the user from daily check-ins. The record is
// kept, deactivated, so streak history survives a re-registration.
func (h *Handler) Deregister(community ref.RoomID, user ref.UserID) (string, error) {
	finalStreak := 0
	wasActive := false
	_, found := h.store.UpdateParticipant(community, user, func(p *store.Participant) {
		wasActive = p.Active
		if !p.Active {
			return
		}
		finalStreak = p.CurrentStreak
		p.Active = false
		p.UpdatedAt = h.clock.Now().UTC()
	})
	if !found || !wasActive {
		return "", usageErrorf("You're not currently registered for daily check-ins.")
	}

	if err := h.store.Persist(); err != nil {
		return "", fmt.Errorf("persisting deregistration: %w", err)
	}
	return render.Deregistered(finalStreak), nil
}

// Stats returns the streak summary for a participant, including
// whether they have responded to the open cycle and how long its
// response window has left. A zero target means the requester's own
// stats; looking up someone else gets a distinct not-registered
// message so it does not read as advice to register.
func (h *Handler) Stats(community ref.RoomID, requester, target ref.UserID) (string, error) {
	subject := target
	if subject.IsZero() {
		subject = requester
	}
	self := subject == requester

	participant, found := h.store.Participant(community, subject)
	if !found || !participant.Active {
		if self {
			return "", usageErrorf("Not currently registered for daily check-ins. Use register <goal> to get started.")
		}
		return "", usageErrorf("That user is not currently registered for daily check-ins.")
	}

	var cyclePtr *store.Cycle
	if cycle, ok := h.store.Cycle(community); ok {
		cyclePtr = &cycle
	}
	text := render.Stats(participant, cyclePtr, h.clock.Now())
	if !self {
		text = fmt.Sprintf("Stats for %s:\n%s", subject, text)
	}
	return text, nil
}

// SetChannel points the community's daily announcements at the given
// room, creating the community config with default schedule values on
// first use.
func (h *Handler) SetChannel(community, room ref.RoomID) (string, error) {
	if room.IsZero() {
		return "", usageErrorf("An announcement room is required. Usage: set-channel <room>")
	}

	config := h.ensureConfig(community)
	config.AnnounceRoomID = room
	config.UpdatedAt = h.clock.Now().UTC()
	h.store.UpsertConfig(config)

	if err := h.store.Persist(); err != nil {
		return "", fmt.Errorf("persisting channel config: %w", err)
	}
	return fmt.Sprintf("Daily check-ins will be posted in %s at %s (%s).",
		room, config.DailyTime, config.Timezone), nil
}

// SetSchedule sets the community's daily post time. The timezone must
// be a resolvable IANA name and the time 24-hour HH:MM; both are
// validated here so the scheduler never reads a malformed config.
func (h *Handler) SetSchedule(community ref.RoomID, timezone, dailyTime string) (string, error) {
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", usageErrorf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", timezone)
	}
	if _, _, err := schedule.ParseDailyTime(dailyTime); err != nil {
		return "", usageErrorf("Invalid time %q. Use 24-hour HH:MM, like 09:00.", dailyTime)
	}

	config := h.ensureConfig(community)
	config.Timezone = timezone
	config.DailyTime = dailyTime
	config.UpdatedAt = h.clock.Now().UTC()
	h.store.UpsertConfig(config)

	if err := h.store.Persist(); err != nil {
		return "", fmt.Errorf("persisting schedule config: %w", err)
	}
	if config.AnnounceRoomID.IsZero() {
		return fmt.Sprintf("Daily time set to %s (%s). Set an announcement room to start posting.",
			dailyTime, timezone), nil
	}
	return fmt.Sprintf("Daily check-ins will be posted at %s (%s).", dailyTime, timezone), nil
}

// ensureConfig returns the community's config, initializing defaults
// for a community seen for the first time.
func (h *Handler) ensureConfig(community ref.RoomID) store.CommunityConfig {
	if config, ok := h.store.Config(community); ok {
		return config
	}
	now := h.clock.Now().UTC()
	return store.CommunityConfig{
		CommunityID: community,
		Timezone:    defaultTimezone,
		DailyTime:   defaultDailyTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
