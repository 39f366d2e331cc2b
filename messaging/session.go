// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// Session is an authenticated connection to the homeserver.
type Session struct {
	client      *Client
	accessToken string
	userID      ref.UserID
	deviceID    string

	// transactionCounter feeds the idempotency key for event sends.
	transactionCounter atomic.Uint64
}

// UserID returns the session's fully-qualified Matrix user ID.
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// CloseIdleConnections drops idle connections in the shared transport
// pool.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// WhoAmI validates the session against the homeserver and returns
// the authenticated user ID.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// SendMessage sends an m.room.message event to a room. The content
// carries thread context when this is a thread reply (see
// NewTextMessage and NewThreadReply). Returns the event ID. Uses
// Matrix's idempotent PUT with a transaction ID, so a retried send
// after a lost response does not duplicate the message.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(s.nextTransactionID()),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send message to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// JoinRoom joins a room by ID. Joining a room the session is already
// in succeeds and is a no-op on the server.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the session has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// Sync performs an incremental sync with the homeserver. For initial
// sync, leave options.Since empty. For long-polling, set
// options.Timeout to the desired hold in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// nextTransactionID returns a transaction ID unique within this
// session's lifetime.
func (s *Session) nextTransactionID() string {
	return fmt.Sprintf("checkin-%d-%d", time.Now().UnixNano(), s.transactionCounter.Add(1))
}
