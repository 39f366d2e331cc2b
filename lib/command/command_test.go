// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/checkin/lib/clock"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/render"
	"github.com/bureau-foundation/checkin/lib/store"
)

var (
	testCommunity = ref.MustParseRoomID("!community:bureau.test")
	testRoom      = ref.MustParseRoomID("!announce:bureau.test")
	testAlice     = ref.MustParseUserID("@alice:bureau.test")
)

func newHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	st := store.New("")
	clk := clock.Fake(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	return NewHandler(st, clk), st
}

func requireUsageError(t *testing.T, err error) {
	t.Helper()
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestRegisterGoalNewParticipant(t *testing.T) {
	h, st := newHandler(t)

	reply, err := h.RegisterGoal(testCommunity, testAlice, "  run 5k  ")
	if err != nil {
		t.Fatalf("RegisterGoal: %v", err)
	}
	if want := render.Registered("run 5k"); reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}

	participant, found := st.Participant(testCommunity, testAlice)
	if !found {
		t.Fatal("participant not stored")
	}
	if !participant.Active || participant.Goal != "run 5k" {
		t.Errorf("stored participant = %+v", participant)
	}
	if participant.CreatedAt.IsZero() || participant.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestRegisterGoalUpdatesActiveParticipant(t *testing.T) {
	h, st := newHandler(t)
	st.UpsertParticipant(testCommunity, store.Participant{
		UserID:        testAlice,
		Goal:          "old goal",
		CurrentStreak: 12,
		LongestStreak: 12,
		Active:        true,
	})

	reply, err := h.RegisterGoal(testCommunity, testAlice, "new goal")
	if err != nil {
		t.Fatalf("RegisterGoal: %v", err)
	}
	if want := render.GoalUpdated("new goal"); reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}

	participant, _ := st.Participant(testCommunity, testAlice)
	if participant.CurrentStreak != 12 {
		t.Errorf("goal edit must not touch the streak, got %d", participant.CurrentStreak)
	}
}

func TestRegisterGoalReactivation(t *testing.T) {
	h, st := newHandler(t)
	st.UpsertParticipant(testCommunity, store.Participant{
		UserID:        testAlice,
		Goal:          "old goal",
		CurrentStreak: 12,
		LongestStreak: 40,
		LastCheckin:   store.NewDate(2024, 2, 1),
		GraceStart:    store.NewDate(2024, 2, 2),
		Active:        false,
	})

	reply, err := h.RegisterGoal(testCommunity, testAlice, "fresh start")
	if err != nil {
		t.Fatalf("RegisterGoal: %v", err)
	}
	if want := render.Registered("fresh start"); reply != want {
		t.Errorf("reactivation should read as a new registration, got %q", reply)
	}

	participant, _ := st.Participant(testCommunity, testAlice)
	if !participant.Active {
		t.Error("participant not reactivated")
	}
	if participant.CurrentStreak != 0 || !participant.LastCheckin.IsZero() || !participant.GraceStart.IsZero() {
		t.Errorf("streak state not reset: %+v", participant)
	}
	if participant.LongestStreak != 40 {
		t.Errorf("longest streak must survive deregistration, got %d", participant.LongestStreak)
	}
}

func TestRegisterGoalValidation(t *testing.T) {
	h, _ := newHandler(t)

	_, err := h.RegisterGoal(testCommunity, testAlice, "   ")
	requireUsageError(t, err)

	_, err = h.RegisterGoal(testCommunity, testAlice, strings.Repeat("x", GoalLimit+1))
	requireUsageError(t, err)

	// Exactly at the limit is fine.
	if _, err := h.RegisterGoal(testCommunity, testAlice, strings.Repeat("x", GoalLimit)); err != nil {
		t.Fatalf("goal at limit rejected: %v", err)
	}
}

func TestDeregister(t *testing.T) {
	h, st := newHandler(t)
	st.UpsertParticipant(testCommunity, store.Participant{
		UserID:        testAlice,
		Goal:          "run 5k",
		CurrentStreak: 9,
		LongestStreak: 9,
		Active:        true,
	})

	reply, err := h.Deregister(testCommunity, testAlice)
	if err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if want := render.Deregistered(9); reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}

	participant, found := st.Participant(testCommunity, testAlice)
	if !found {
		t.Fatal("deregistration must keep the record")
	}
	if participant.Active {
		t.Error("participant still active")
	}

	// A second deregistration is a usage error.
	_, err = h.Deregister(testCommunity, testAlice)
	requireUsageError(t, err)
}

func TestDeregisterUnknownUser(t *testing.T) {
	h, _ := newHandler(t)
	_, err := h.Deregister(testCommunity, testAlice)
	requireUsageError(t, err)
}

func TestStats(t *testing.T) {
	h, st := newHandler(t)

	_, err := h.Stats(testCommunity, testAlice, ref.UserID{})
	requireUsageError(t, err)

	st.UpsertParticipant(testCommunity, store.Participant{
		UserID:        testAlice,
		Goal:          "run 5k",
		CurrentStreak: 3,
		LongestStreak: 8,
		Active:        true,
	})
	st.SetCycle(store.Cycle{
		CommunityID: testCommunity,
		RoomID:      testRoom,
		PostedAt:    time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
	})

	reply, err := h.Stats(testCommunity, testAlice, ref.UserID{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, want := range []string{"run 5k", "3", "8", "left"} {
		if !strings.Contains(reply, want) {
			t.Errorf("stats reply missing %q:\n%s", want, reply)
		}
	}
}

func TestStatsForAnotherUser(t *testing.T) {
	h, st := newHandler(t)
	bob := ref.MustParseUserID("@bob:bureau.test")

	st.UpsertParticipant(testCommunity, store.Participant{
		UserID:        testAlice,
		Goal:          "run 5k",
		CurrentStreak: 3,
		LongestStreak: 8,
		Active:        true,
	})

	reply, err := h.Stats(testCommunity, bob, testAlice)
	if err != nil {
		t.Fatalf("Stats for another user: %v", err)
	}
	if !strings.Contains(reply, "Stats for "+testAlice.String()) {
		t.Errorf("reply does not name the subject: %q", reply)
	}
	if !strings.Contains(reply, "run 5k") {
		t.Errorf("reply missing the subject's goal: %q", reply)
	}

	// Asking about an unregistered user reads differently from being
	// unregistered yourself.
	_, err = h.Stats(testCommunity, testAlice, bob)
	requireUsageError(t, err)
	if !strings.Contains(err.Error(), "That user") {
		t.Errorf("error = %q, want the third-person message", err)
	}

	// Passing your own ID explicitly is the self view.
	reply, err = h.Stats(testCommunity, testAlice, testAlice)
	if err != nil {
		t.Fatalf("Stats with explicit self: %v", err)
	}
	if strings.Contains(reply, "Stats for ") {
		t.Errorf("explicit self must not use the third-person header: %q", reply)
	}
}

func TestSetChannelCreatesConfigWithDefaults(t *testing.T) {
	h, st := newHandler(t)

	reply, err := h.SetChannel(testCommunity, testRoom)
	if err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if !strings.Contains(reply, testRoom.String()) {
		t.Errorf("reply does not name the room: %q", reply)
	}

	config, found := st.Config(testCommunity)
	if !found {
		t.Fatal("config not created")
	}
	if config.AnnounceRoomID != testRoom {
		t.Errorf("announce room = %s", config.AnnounceRoomID)
	}
	if config.Timezone != "UTC" || config.DailyTime != "09:00" {
		t.Errorf("defaults not applied: %+v", config)
	}
}

func TestSetChannelRequiresRoom(t *testing.T) {
	h, _ := newHandler(t)
	_, err := h.SetChannel(testCommunity, ref.RoomID{})
	requireUsageError(t, err)
}

func TestSetSchedule(t *testing.T) {
	h, st := newHandler(t)

	_, err := h.SetSchedule(testCommunity, "Mars/Olympus", "09:00")
	requireUsageError(t, err)
	_, err = h.SetSchedule(testCommunity, "Europe/Berlin", "9am")
	requireUsageError(t, err)

	reply, err := h.SetSchedule(testCommunity, "Europe/Berlin", "07:30")
	if err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if !strings.Contains(reply, "announcement room") {
		t.Errorf("reply should prompt for the missing room: %q", reply)
	}

	config, _ := st.Config(testCommunity)
	if config.Timezone != "Europe/Berlin" || config.DailyTime != "07:30" {
		t.Errorf("schedule not stored: %+v", config)
	}

	// With the room configured the prompt disappears.
	if _, err := h.SetChannel(testCommunity, testRoom); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	reply, err = h.SetSchedule(testCommunity, "Europe/Berlin", "08:00")
	if err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if strings.Contains(reply, "announcement room") {
		t.Errorf("unexpected room prompt: %q", reply)
	}
}
