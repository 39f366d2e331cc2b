// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"sort"
	"sync"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// Store is the lock-guarded in-memory aggregate of all communities,
// participants, and cycles. Create one with New (empty) or Load
// (from a snapshot file) and share it by reference across tasks.
type Store struct {
	mu   sync.RWMutex
	path string

	// persistMu serializes Persist end to end. The scheduler and the
	// event pump both persist; without this, their writes share the
	// temp paths and can pair one call's snapshot with the other
	// call's digest sidecar, which Load then rejects as corrupt.
	persistMu sync.Mutex

	communities  map[ref.RoomID]CommunityConfig
	participants map[ref.RoomID]map[ref.UserID]Participant
	cycles       map[ref.RoomID]Cycle
}

// New returns an empty Store that persists to path. An empty path
// disables persistence (Persist becomes a no-op); tests use this.
func New(path string) *Store {
	return &Store{
		path:         path,
		communities:  make(map[ref.RoomID]CommunityConfig),
		participants: make(map[ref.RoomID]map[ref.UserID]Participant),
		cycles:       make(map[ref.RoomID]Cycle),
	}
}

// Config returns the configuration for a community, if present.
func (s *Store) Config(community ref.RoomID) (CommunityConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.communities[community]
	return config, ok
}

// UpsertConfig inserts or replaces a community's configuration.
func (s *Store) UpsertConfig(config CommunityConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[config.CommunityID] = config
}

// Snapshot returns all community configurations, sorted by community
// ID. The scheduler sweeps this copy each tick, so a slow community in
// one tick cannot hold the lock across the sweep.
func (s *Store) Snapshot() []CommunityConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs := make([]CommunityConfig, 0, len(s.communities))
	for _, config := range s.communities {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].CommunityID.String() < configs[j].CommunityID.String()
	})
	return configs
}

// Participant returns a copy of a participant record, if present.
func (s *Store) Participant(community ref.RoomID, user ref.UserID) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, ok := s.participants[community][user]
	return participant, ok
}

// UpsertParticipant inserts or replaces a participant record.
func (s *Store) UpsertParticipant(community ref.RoomID, participant Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.participants[community]
	if !ok {
		byUser = make(map[ref.UserID]Participant)
		s.participants[community] = byUser
	}
	byUser[participant.UserID] = participant
}

// UpdateParticipant applies fn to a participant under the write lock
// and returns a copy of the result. The read-modify-write is atomic:
// concurrent updates to the same user are serialized here, so each
// user's sequence of credits is totally ordered. Returns false without
// calling fn if the participant does not exist.
func (s *Store) UpdateParticipant(community ref.RoomID, user ref.UserID, fn func(*Participant)) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.participants[community]
	if !ok {
		return Participant{}, false
	}
	participant, ok := byUser[user]
	if !ok {
		return Participant{}, false
	}
	fn(&participant)
	byUser[user] = participant
	return participant, true
}

// UpdateParticipants applies fn to every participant of a community
// under one write lock acquisition. fn returns true to report that it
// mutated the record; UpdateParticipants returns how many records were
// mutated. Used by cycle-close maintenance.
func (s *Store) UpdateParticipants(community ref.RoomID, fn func(*Participant) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutated := 0
	for user, participant := range s.participants[community] {
		if fn(&participant) {
			s.participants[community][user] = participant
			mutated++
		}
	}
	return mutated
}

// Participants returns copies of all participant records for a
// community, sorted by user ID.
func (s *Store) Participants(community ref.RoomID) []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participants := make([]Participant, 0, len(s.participants[community]))
	for _, participant := range s.participants[community] {
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID.String() < participants[j].UserID.String()
	})
	return participants
}

// ActiveParticipants returns copies of the active participant records
// for a community, sorted by user ID.
func (s *Store) ActiveParticipants(community ref.RoomID) []Participant {
	all := s.Participants(community)
	active := all[:0]
	for _, participant := range all {
		if participant.Active {
			active = append(active, participant)
		}
	}
	return active
}

// Cycle returns the community's latest cycle, if one has been posted.
func (s *Store) Cycle(community ref.RoomID) (Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycle, ok := s.cycles[community]
	return cycle, ok
}

// SetCycle records a community's new cycle, replacing any prior one.
func (s *Store) SetCycle(cycle Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[cycle.CommunityID] = cycle
}
