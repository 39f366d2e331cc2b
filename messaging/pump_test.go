// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/checkin/lib/ref"
	"github.com/bureau-foundation/checkin/lib/testutil"
)

// syncScript serves a fixed sequence of /sync responses, one per
// request, then blocks until the request context is cancelled.
type syncScript struct {
	responses []SyncResponse
	requests  atomic.Int64
}

func (s *syncScript) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		index := s.requests.Add(1) - 1
		if int(index) < len(s.responses) {
			writeJSON(writer, s.responses[index])
			return
		}
		// Script exhausted: hold the long poll open until the pump
		// is cancelled.
		<-request.Context().Done()
	})
}

func timelineEvent(id, sender, body string, relates map[string]any) Event {
	content := map[string]any{"msgtype": "m.text", "body": body}
	if relates != nil {
		content["m.relates_to"] = relates
	}
	return Event{
		EventID: ref.MustParseEventID(id),
		Type:    "m.room.message",
		Sender:  ref.MustParseUserID(sender),
		Content: content,
	}
}

func TestEventPumpDeliversForeignEvents(t *testing.T) {
	script := &syncScript{responses: []SyncResponse{
		// Initial sync: position only, events here are history and
		// must never reach the handler.
		{
			NextBatch: "s1",
			Rooms: RoomsSection{Join: map[ref.RoomID]JoinedRoom{
				testRoom: {Timeline: TimelineSection{Events: []Event{
					timelineEvent("$old:bureau.test", "@alice:bureau.test", "stale", nil),
				}}},
			}},
		},
		{
			NextBatch: "s2",
			Rooms: RoomsSection{Join: map[ref.RoomID]JoinedRoom{
				testRoom: {Timeline: TimelineSection{Events: []Event{
					timelineEvent("$own:bureau.test", testUser.String(), "my own prompt", nil),
					timelineEvent("$incoming:bureau.test", "@alice:bureau.test", "done!", map[string]any{
						"rel_type": "m.thread",
						"event_id": "$prompt:bureau.test",
					}),
				}}},
			}},
		},
	}}

	_, session := newTestSession(t, script.handler(t))
	received := make(chan Event, 4)
	pump := NewEventPump(session, func(event Event) {
		received <- event
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pump.Run(ctx)
	}()

	event := testutil.RequireReceive(t, received, 5*time.Second, "waiting for delivered event")
	if event.EventID != ref.MustParseEventID("$incoming:bureau.test") {
		t.Errorf("delivered wrong event: %s", event.EventID)
	}
	if event.RoomID != testRoom {
		t.Errorf("room ID = %s, want %s", event.RoomID, testRoom)
	}
	if event.MessageBody() != "done!" {
		t.Errorf("body = %q", event.MessageBody())
	}
	if root := event.ThreadRoot(); root != ref.MustParseEventID("$prompt:bureau.test") {
		t.Errorf("thread root = %s", root)
	}

	// The own-sender event and the initial-sync history must not
	// arrive.
	select {
	case extra := <-received:
		t.Errorf("unexpected extra event: %s", extra.EventID)
	default:
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for pump shutdown"); err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestEventPumpInitialSyncFailureIsFatal(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(writer).Encode(map[string]string{"errcode": "M_UNKNOWN", "error": "proxy error"})
	}))
	pump := NewEventPump(session, func(Event) {
		t.Error("handler must not run on a failed initial sync")
	}, slog.New(slog.DiscardHandler))

	err := pump.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error from failed initial sync")
	}
	if !strings.Contains(err.Error(), "initial sync") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEventPumpRetriesAfterSyncFailure(t *testing.T) {
	var requests atomic.Int64
	received := make(chan Event, 1)
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch requests.Add(1) {
		case 1:
			writeJSON(writer, SyncResponse{NextBatch: "s1"})
		case 2:
			writer.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(writer).Encode(map[string]string{"errcode": "M_UNKNOWN", "error": "proxy error"})
		case 3:
			// The retry after a failure must resume from the last
			// good position.
			if got := request.URL.Query().Get("since"); got != "s1" {
				t.Errorf("since = %q, want s1", got)
			}
			writeJSON(writer, SyncResponse{
				NextBatch: "s2",
				Rooms: RoomsSection{Join: map[ref.RoomID]JoinedRoom{
					testRoom: {Timeline: TimelineSection{Events: []Event{
						timelineEvent("$after:bureau.test", "@alice:bureau.test", "still here", nil),
					}}},
				}},
			})
		default:
			<-request.Context().Done()
		}
	}))
	pump := NewEventPump(session, func(event Event) {
		received <- event
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- pump.Run(ctx)
	}()

	event := testutil.RequireReceive(t, received, 5*time.Second, "waiting for post-recovery event")
	if event.EventID != ref.MustParseEventID("$after:bureau.test") {
		t.Errorf("delivered wrong event: %s", event.EventID)
	}

	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "waiting for pump shutdown")
}

func TestEventPumpJoinsInvitedRooms(t *testing.T) {
	invited := ref.MustParseRoomID("!newcommunity:bureau.test")
	joined := make(chan string, 1)
	var requests atomic.Int64
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/join/") {
			joined <- request.URL.Path
			writeJSON(writer, map[string]string{"room_id": invited.String()})
			return
		}
		switch requests.Add(1) {
		case 1:
			writeJSON(writer, SyncResponse{NextBatch: "s1"})
		case 2:
			writeJSON(writer, SyncResponse{
				NextBatch: "s2",
				Rooms: RoomsSection{Invite: map[ref.RoomID]InvitedRoom{
					invited: {},
				}},
			})
		default:
			<-request.Context().Done()
		}
	}))
	pump := NewEventPump(session, func(Event) {}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pump.Run(ctx)
	}()

	path := testutil.RequireReceive(t, joined, 5*time.Second, "waiting for join request")
	if !strings.Contains(path, "!newcommunity") {
		t.Errorf("joined wrong room: %s", path)
	}

	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "waiting for pump shutdown")
}

func TestEventPumpSyncQueryParameters(t *testing.T) {
	var sawFilter atomic.Bool
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("timeout") == "" {
			t.Error("sync request must always set a timeout")
		}
		filter := query.Get("filter")
		if filter != "" && strings.Contains(filter, "m.room.message") {
			sawFilter.Store(true)
		}
		if query.Get("since") == "" {
			// Initial sync must not long-poll.
			if got := query.Get("timeout"); got != "0" {
				t.Errorf("initial sync timeout = %q, want 0", got)
			}
			writeJSON(writer, SyncResponse{NextBatch: "s1"})
			return
		}
		<-request.Context().Done()
	}))
	pump := NewEventPump(session, func(Event) {}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pump.Run(ctx)
	}()

	// Give the pump time to issue the initial sync and enter the
	// long poll before cancelling.
	deadline := time.After(5 * time.Second)
	for !sawFilter.Load() {
		select {
		case <-deadline:
			t.Fatal("sync filter never observed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "waiting for pump shutdown")
}
