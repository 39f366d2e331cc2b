// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/checkin/lib/codec"
	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/store"
)

// ServiceInfo is the static identity the status action reports.
type ServiceInfo struct {
	UserID    ref.UserID
	StatePath string
	StartedAt time.Time
}

// StatusResponse summarizes the running service.
type StatusResponse struct {
	UserID        ref.UserID `cbor:"user_id"`
	StatePath     string     `cbor:"state_path"`
	StartedAt     time.Time  `cbor:"started_at"`
	UptimeSeconds int64      `cbor:"uptime_seconds"`
	Communities   int        `cbor:"communities"`
	Participants  int        `cbor:"participants"`
}

// CommunitySummary is one community's row in the communities action.
type CommunitySummary struct {
	CommunityID        ref.RoomID  `cbor:"community_id"`
	AnnounceRoomID     ref.RoomID  `cbor:"announce_room_id,omitempty"`
	Timezone           string      `cbor:"timezone"`
	DailyTime          string      `cbor:"daily_time"`
	Participants       int         `cbor:"participants"`
	ActiveParticipants int         `cbor:"active_participants"`
	CyclePostedAt      time.Time   `cbor:"cycle_posted_at,omitempty"`
	CycleThreadID      ref.EventID `cbor:"cycle_thread_id,omitempty"`
}

// CommunitiesResponse lists every configured community.
type CommunitiesResponse struct {
	Communities []CommunitySummary `cbor:"communities"`
}

// ParticipantSummary is one participant's row in the participants
// action.
type ParticipantSummary struct {
	UserID        ref.UserID `cbor:"user_id"`
	Goal          string     `cbor:"goal"`
	CurrentStreak int        `cbor:"current_streak"`
	LongestStreak int        `cbor:"longest_streak"`
	LastCheckin   store.Date `cbor:"last_checkin,omitempty"`
	Active        bool       `cbor:"active"`
}

// ParticipantsResponse lists one community's participants.
type ParticipantsResponse struct {
	CommunityID  ref.RoomID           `cbor:"community_id"`
	Participants []ParticipantSummary `cbor:"participants"`
}

// RegisterAdminActions wires the read-only admin actions onto the
// socket server. All three take the store's read lock only; none can
// affect scheduling or streak state.
func RegisterAdminActions(server *SocketServer, st *store.Store, info ServiceInfo) {
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		total := 0
		communities := st.Snapshot()
		for _, config := range communities {
			total += len(st.Participants(config.CommunityID))
		}
		return StatusResponse{
			UserID:        info.UserID,
			StatePath:     info.StatePath,
			StartedAt:     info.StartedAt,
			UptimeSeconds: int64(time.Since(info.StartedAt).Seconds()),
			Communities:   len(communities),
			Participants:  total,
		}, nil
	})

	server.Handle("communities", func(ctx context.Context, raw []byte) (any, error) {
		configs := st.Snapshot()
		summaries := make([]CommunitySummary, 0, len(configs))
		for _, config := range configs {
			summary := CommunitySummary{
				CommunityID:        config.CommunityID,
				AnnounceRoomID:     config.AnnounceRoomID,
				Timezone:           config.Timezone,
				DailyTime:          config.DailyTime,
				Participants:       len(st.Participants(config.CommunityID)),
				ActiveParticipants: len(st.ActiveParticipants(config.CommunityID)),
			}
			if cycle, ok := st.Cycle(config.CommunityID); ok {
				summary.CyclePostedAt = cycle.PostedAt
				summary.CycleThreadID = cycle.ThreadID
			}
			summaries = append(summaries, summary)
		}
		return CommunitiesResponse{Communities: summaries}, nil
	})

	server.Handle("participants", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Community ref.RoomID `cbor:"community"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		if request.Community.IsZero() {
			return nil, fmt.Errorf("missing required field: community")
		}
		if _, ok := st.Config(request.Community); !ok {
			return nil, fmt.Errorf("unknown community %s", request.Community)
		}

		participants := st.Participants(request.Community)
		summaries := make([]ParticipantSummary, len(participants))
		for i, participant := range participants {
			summaries[i] = ParticipantSummary{
				UserID:        participant.UserID,
				Goal:          participant.Goal,
				CurrentStreak: participant.CurrentStreak,
				LongestStreak: participant.LongestStreak,
				LastCheckin:   participant.LastCheckin,
				Active:        participant.Active,
			}
		}
		return ParticipantsResponse{
			CommunityID:  request.Community,
			Participants: summaries,
		}, nil
	})
}
