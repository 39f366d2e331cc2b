// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// CommunityConfig is a community's daily check-in configuration.
// Created by the first admin configuration command and mutated by
// later ones; never deleted (the community ID is stable).
type CommunityConfig struct {
	// CommunityID identifies the community. One config per community.
	CommunityID ref.RoomID `json:"community_id"`

	// AnnounceRoomID is the room where the daily prompt is posted.
	// Zero means scheduling is disabled for this community.
	AnnounceRoomID ref.RoomID `json:"announce_room_id,omitzero"`

	// Timezone is an IANA timezone name (e.g., "America/New_York").
	// Validated with time.LoadLocation before it is stored, so the
	// scheduler never sees an unresolvable zone.
	Timezone string `json:"timezone"`

	// DailyTime is the local wall-clock post time in 24-hour "HH:MM"
	// form. Validated at write time.
	DailyTime string `json:"daily_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is a user's registration and streak state within one
// community. Deregistration flips Active to false but retains the
// record, so the user's history survives re-registration.
//
// Invariants maintained by the streak engine: LongestStreak >=
// CurrentStreak always; GraceStart is set only while CurrentStreak is
// at least the grace threshold, and is cleared by any reset to zero.
type Participant struct {
	UserID ref.UserID `json:"user_id"`

	// Goal is the participant's free-text goal, at most 500 characters.
	Goal string `json:"goal"`

	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`

	// LastCheckin is the UTC calendar date of the most recent credited
	// check-in. Zero for a participant who has never checked in.
	LastCheckin Date `json:"last_checkin_date,omitzero"`

	// GraceStart anchors the rolling grace window: the first missed
	// day of the gap currently being tolerated. Zero when no grace is
	// in use.
	GraceStart Date `json:"grace_period_start,omitzero"`

	// Active is false after deregistration. Inactive participants are
	// never pinged, never credited, and never reset.
	Active bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cycle is one daily prompt-and-response window for a community. At
// most one live Cycle exists per community; posting a new prompt fully
// replaces the previous record.
type Cycle struct {
	CommunityID ref.RoomID `json:"community_id"`

	// RoomID is the room the prompt was posted in.
	RoomID ref.RoomID `json:"room_id"`

	// MessageID is the event ID of the prompt message.
	MessageID ref.EventID `json:"message_id"`

	// ThreadID is the root event of the response thread. Responses
	// must arrive in this thread to be credited.
	ThreadID ref.EventID `json:"thread_id"`

	// PostedAt is when the prompt was posted, UTC. The response
	// deadline is PostedAt + ResponseWindow.
	PostedAt time.Time `json:"posted_at"`
}

// ResponseWindow is how long after a cycle's prompt a response still
// counts.
const ResponseWindow = 24 * time.Hour

// Deadline returns the instant after which responses to this cycle are
// no longer credited.
func (c Cycle) Deadline() time.Time {
	return c.PostedAt.Add(ResponseWindow)
}
