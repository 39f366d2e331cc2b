// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/checkin/lib/ref"
)

var (
	testCommunity = ref.MustParseRoomID("!community:example.org")
	testAnnounce  = ref.MustParseRoomID("!announce:example.org")
	testUser      = ref.MustParseUserID("@alice:example.org")
	testOtherUser = ref.MustParseUserID("@bob:example.org")
)

func testConfig() CommunityConfig {
	return CommunityConfig{
		CommunityID:    testCommunity,
		AnnounceRoomID: testAnnounce,
		Timezone:       "America/New_York",
		DailyTime:      "09:00",
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestConfigUpsertAndSnapshot(t *testing.T) {
	s := New("")

	if _, ok := s.Config(testCommunity); ok {
		t.Fatal("Config on empty store returned a value")
	}

	s.UpsertConfig(testConfig())
	config, ok := s.Config(testCommunity)
	if !ok {
		t.Fatal("Config not found after upsert")
	}
	if config.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", config.Timezone)
	}

	second := testConfig()
	second.CommunityID = ref.MustParseRoomID("!another:example.org")
	s.UpsertConfig(second)

	snapshot := s.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("Snapshot has %d configs, want 2", len(snapshot))
	}
	// Sorted by community ID for a deterministic sweep order.
	if snapshot[0].CommunityID.String() > snapshot[1].CommunityID.String() {
		t.Error("Snapshot is not sorted by community ID")
	}
}

func TestUpdateParticipant(t *testing.T) {
	s := New("")

	if _, ok := s.UpdateParticipant(testCommunity, testUser, func(p *Participant) {
		t.Error("fn called for missing participant")
	}); ok {
		t.Fatal("UpdateParticipant reported success for missing participant")
	}

	s.UpsertParticipant(testCommunity, Participant{UserID: testUser, Active: true})

	updated, ok := s.UpdateParticipant(testCommunity, testUser, func(p *Participant) {
		p.CurrentStreak = 5
	})
	if !ok || updated.CurrentStreak != 5 {
		t.Fatalf("UpdateParticipant = %+v, %v", updated, ok)
	}

	stored, _ := s.Participant(testCommunity, testUser)
	if stored.CurrentStreak != 5 {
		t.Errorf("mutation not visible through Participant: %+v", stored)
	}
}

func TestUpdateParticipantsCountsMutations(t *testing.T) {
	s := New("")
	s.UpsertParticipant(testCommunity, Participant{UserID: testUser, Active: true, CurrentStreak: 3})
	s.UpsertParticipant(testCommunity, Participant{UserID: testOtherUser, Active: false, CurrentStreak: 3})

	mutated := s.UpdateParticipants(testCommunity, func(p *Participant) bool {
		if !p.Active {
			return false
		}
		p.CurrentStreak = 0
		return true
	})
	if mutated != 1 {
		t.Errorf("mutated = %d, want 1", mutated)
	}

	inactive, _ := s.Participant(testCommunity, testOtherUser)
	if inactive.CurrentStreak != 3 {
		t.Errorf("inactive participant was mutated: %+v", inactive)
	}
}

func TestActiveParticipants(t *testing.T) {
	s := New("")
	s.UpsertParticipant(testCommunity, Participant{UserID: testUser, Active: true})
	s.UpsertParticipant(testCommunity, Participant{UserID: testOtherUser, Active: false})

	active := s.ActiveParticipants(testCommunity)
	if len(active) != 1 || active[0].UserID != testUser {
		t.Errorf("ActiveParticipants = %+v", active)
	}
}

func TestSetCycleReplacesPrior(t *testing.T) {
	s := New("")
	first := Cycle{
		CommunityID: testCommunity,
		RoomID:      testAnnounce,
		MessageID:   ref.MustParseEventID("$first"),
		ThreadID:    ref.MustParseEventID("$first"),
		PostedAt:    time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC),
	}
	s.SetCycle(first)

	second := first
	second.MessageID = ref.MustParseEventID("$second")
	second.ThreadID = ref.MustParseEventID("$second")
	second.PostedAt = first.PostedAt.Add(24 * time.Hour)
	s.SetCycle(second)

	cycle, ok := s.Cycle(testCommunity)
	if !ok {
		t.Fatal("Cycle not found")
	}
	if cycle.MessageID != second.MessageID {
		t.Errorf("Cycle = %+v, want the replacement", cycle)
	}
}

func TestCycleDeadline(t *testing.T) {
	posted := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	cycle := Cycle{PostedAt: posted}
	if got := cycle.Deadline(); !got.Equal(posted.Add(24 * time.Hour)) {
		t.Errorf("Deadline = %v", got)
	}
}

func populated(path string) *Store {
	s := New(path)
	s.UpsertConfig(testConfig())
	s.UpsertParticipant(testCommunity, Participant{
		UserID:        testUser,
		Goal:          "run every day",
		CurrentStreak: 12,
		LongestStreak: 40,
		LastCheckin:   NewDate(2024, time.March, 1),
		Active:        true,
	})
	s.SetCycle(Cycle{
		CommunityID: testCommunity,
		RoomID:      testAnnounce,
		MessageID:   ref.MustParseEventID("$prompt"),
		ThreadID:    ref.MustParseEventID("$prompt"),
		PostedAt:    time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
	})
	return s
}

func TestPersistLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"state.json", "state.json.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := populated(path).Persist(); err != nil {
				t.Fatalf("Persist: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}

			config, ok := loaded.Config(testCommunity)
			if !ok || config.DailyTime != "09:00" {
				t.Errorf("config did not survive: %+v, %v", config, ok)
			}
			participant, ok := loaded.Participant(testCommunity, testUser)
			if !ok || participant.CurrentStreak != 12 || participant.LastCheckin != NewDate(2024, time.March, 1) {
				t.Errorf("participant did not survive: %+v, %v", participant, ok)
			}
			cycle, ok := loaded.Cycle(testCommunity)
			if !ok || cycle.ThreadID != ref.MustParseEventID("$prompt") {
				t.Errorf("cycle did not survive: %+v, %v", cycle, ok)
			}
		})
	}
}

func TestLoadMissingSnapshotIsEmptyBootstrap(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load of missing snapshot: %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Error("missing snapshot did not produce an empty aggregate")
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := populated(path).Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Flip a byte in the document without updating the sidecar.
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(contents), "run every day", "run some days", 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "integrity") {
		t.Errorf("Load of tampered snapshot = %v, want integrity error", err)
	}
}

func TestLoadWithoutSidecarIsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := populated(path).Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := os.Remove(path + ".b3"); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load without sidecar: %v", err)
	}
}

func TestPersistConcurrentWritersKeepSnapshotConsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := populated(path)

	// The scheduler and the event pump persist from separate
	// goroutines. Every interleaving must leave a loadable
	// snapshot+sidecar pair on disk.
	const writers = 4
	const rounds = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers*rounds)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				s.UpdateParticipant(testCommunity, testUser, func(p *Participant) {
					p.CurrentStreak = w*rounds + i
				})
				if err := s.Persist(); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Persist: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after concurrent persists: %v", err)
	}
	if _, ok := loaded.Participant(testCommunity, testUser); !ok {
		t.Error("participant missing after concurrent persists")
	}
}

func TestPersistWithEmptyPathIsNoop(t *testing.T) {
	if err := New("").Persist(); err != nil {
		t.Errorf("Persist on pathless store: %v", err)
	}
}
