// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// longPollTimeout is the server-side long-poll hold in milliseconds.
// The server returns immediately when new events arrive; 30 seconds
// matches the client-server spec recommendation.
const longPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds used after
// a /sync error, short so the retry round-trip itself provides
// backoff.
const retryTimeout = 1000

// EventHandler receives one timeline event from the pump. Handlers
// run on the pump goroutine; slow work must not block here or sync
// falls behind.
type EventHandler func(event Event)

// EventPump long-polls /sync and delivers m.room.message timeline
// events from every joined room to a handler. The first sync only
// establishes the stream position, so history from before the pump
// started is never replayed.
//
// The pump runs until its context is cancelled. Sync failures are
// retried indefinitely; a service outage on the homeserver side
// pauses delivery rather than killing the pump.
type EventPump struct {
	session *Session
	handler EventHandler
	logger  *slog.Logger
	filter  string
}

// NewEventPump creates a pump delivering message events to handler.
func NewEventPump(session *Session, handler EventHandler, logger *slog.Logger) *EventPump {
	return &EventPump{
		session: session,
		handler: handler,
		logger:  logger,
		filter:  messageOnlyFilter(),
	}
}

// messageOnlyFilter builds the inline /sync filter: timeline
// m.room.message events only, no state, no presence, no account data.
func messageOnlyFilter() string {
	filter := map[string]any{
		"room": map[string]any{
			"timeline":  map[string]any{"types": []string{"m.room.message"}},
			"state":     map[string]any{"types": []string{}},
			"ephemeral": map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(filter)
	return string(data)
}

// Run drives the sync loop until ctx is cancelled. Returns nil on
// cancellation; the only error return is a failed initial sync, since
// without a stream position the pump cannot distinguish new events
// from history.
func (p *EventPump) Run(ctx context.Context) error {
	initial, err := p.session.Sync(ctx, SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     p.filter,
	})
	if err != nil {
		return fmt.Errorf("messaging: initial sync: %w", err)
	}
	nextBatch := initial.NextBatch
	p.logger.Info("event pump started", "user_id", p.session.UserID())

	failing := false
	for {
		if ctx.Err() != nil {
			p.logger.Info("event pump stopped")
			return nil
		}

		syncTimeout := longPollTimeout
		if failing {
			syncTimeout = retryTimeout
		}
		response, err := p.session.Sync(ctx, SyncOptions{
			Since:      nextBatch,
			SetTimeout: true,
			Timeout:    syncTimeout,
			Filter:     p.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("event pump stopped")
				return nil
			}
			// A TCP-level failure often leaves a poisoned connection in
			// the HTTP pool; drop idle connections so the retry opens a
			// fresh socket.
			p.session.CloseIdleConnections()
			if !failing {
				p.logger.Warn("sync failed, retrying", "error", err)
			}
			failing = true
			continue
		}
		if failing {
			p.logger.Info("sync recovered")
			failing = false
		}
		nextBatch = response.NextBatch

		// Accept invites so a community can add the service by
		// inviting it. A failed join is retried on the next invite
		// delivery from /sync.
		for roomID := range response.Rooms.Invite {
			if _, err := p.session.JoinRoom(ctx, roomID); err != nil {
				p.logger.Warn("failed to join invited room", "room", roomID, "error", err)
				continue
			}
			p.logger.Info("joined room", "room", roomID)
		}

		for roomID, joined := range response.Rooms.Join {
			for _, event := range joined.Timeline.Events {
				if event.Sender == p.session.UserID() {
					continue // never react to our own messages
				}
				event.RoomID = roomID
				p.handler(event)
			}
		}
	}
}
