// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render produces the user-facing message text for daily
// prompts, thread names, participant pings, and stats replies. All
// functions are pure: they format owned copies of store records and
// never touch the store or the clock themselves.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/store"
)

// goalDisplayLimit caps how much of a goal appears in the daily
// prompt's participant list. Full goals appear in stats replies.
const goalDisplayLimit = 50

// DailyPrompt formats the daily check-in announcement for a
// community's active participants. Participants are listed by current
// streak, longest first, to put the longest runs on top.
func DailyPrompt(participants []store.Participant) string {
	var b strings.Builder
	b.WriteString("🌅 Daily check-in time!\n")
	b.WriteString("Reply in this message's thread with your update.\n")

	if len(participants) == 0 {
		b.WriteString("\nNobody is registered yet. Use !checkin register <goal> to join.\n")
		return b.String()
	}

	sorted := make([]store.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CurrentStreak > sorted[j].CurrentStreak
	})

	b.WriteString("\nToday's participants:\n")
	for _, participant := range sorted {
		fmt.Fprintf(&b, "• %s — %s 🔥%d\n",
			participant.UserID, truncateGoal(participant.Goal), participant.CurrentStreak)
	}
	b.WriteString("\n💪 Keep up the momentum!\n")
	return b.String()
}

// ThreadName returns the display name for a cycle's response thread,
// e.g. "Daily check-in responses 01/10/24".
func ThreadName(postedAt time.Time) string {
	return "Daily check-in responses " + postedAt.UTC().Format("01/02/06")
}

// PingMessage formats the thread message that notifies participants a
// new cycle is open. The mention list also travels as structured
// m.mentions metadata; the body repeats it for clients that only
// render text.
func PingMessage(mentions []ref.UserID) string {
	var b strings.Builder
	b.WriteString("Time to check in!")
	for _, user := range mentions {
		b.WriteString("\n")
		b.WriteString(user.String())
	}
	return b.String()
}

// Stats formats a participant's streak summary. cycle may be nil when
// no prompt has been posted yet; now supplies the reference point for
// the time-remaining line.
func Stats(participant store.Participant, cycle *store.Cycle, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", participant.Goal)
	fmt.Fprintf(&b, "Current streak: %d days\n", participant.CurrentStreak)
	fmt.Fprintf(&b, "Longest streak: %d days\n", participant.LongestStreak)

	if participant.LastCheckin.IsZero() {
		b.WriteString("Last check-in: never\n")
	} else {
		fmt.Fprintf(&b, "Last check-in: %s\n", participant.LastCheckin)
	}

	switch {
	case cycle == nil:
		b.WriteString("No check-in prompt is open right now.\n")
	case now.After(cycle.Deadline()):
		b.WriteString("Today's check-in window has closed.\n")
	case !participant.LastCheckin.IsZero() && !participant.LastCheckin.Before(store.DateOf(cycle.PostedAt.UTC())):
		b.WriteString("✅ Checked in for the current cycle.\n")
	default:
		fmt.Fprintf(&b, "⏳ %s left to check in.\n", formatRemaining(cycle.Deadline().Sub(now)))
	}
	return b.String()
}

// Deregistered formats the goodbye message, preserving the streak the
// user is walking away from.
func Deregistered(finalStreak int) string {
	return fmt.Sprintf(
		"You have been removed from daily check-ins. Your streak was %d days. Register again any time to restart.",
		finalStreak)
}

// Registered formats the confirmation for a new or reactivated
// registration.
func Registered(goal string) string {
	return fmt.Sprintf("🎯 You're in! Your goal: %q. You'll be pinged when each daily check-in opens.", goal)
}

// GoalUpdated formats the confirmation for an edited goal.
func GoalUpdated(goal string) string {
	return fmt.Sprintf("Your goal is now: %q", goal)
}

func truncateGoal(goal string) string {
	runes := []rune(goal)
	if len(runes) <= goalDisplayLimit {
		return goal
	}
	return string(runes[:goalDisplayLimit-3]) + "..."
}

// formatRemaining renders a duration as "Nh MMm", rounded down to the
// minute.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}
